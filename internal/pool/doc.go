// Package pool executes evaluation tasks in parallel and delivers their
// completions in the order they finish.
//
// A Dispatcher (LocalPool) accepts tasks without blocking. A Stream
// watches the handles the coordinator registers and hands finished work
// back one completion at a time through AwaitNext. Tasks share no
// mutable state; each receives its own copy of its parameter set.
package pool
