// Package ir provides the value model shared by every sweep package.
//
// This package contains type definitions and their canonical encodings
// only. All other internal packages import ir; ir imports nothing
// internal.
//
// Key constraints:
//   - Parameter values are sealed IRValue types; floats must be finite
//   - Canonical JSON keeps IRInt(1) and IRFloat(1) distinct ("1" vs "1.0")
//   - All JSON tags use snake_case
//   - Ordering comes from logical sequence numbers, never wall-clock time
package ir
