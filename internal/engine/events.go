package engine

// EventKind names what the coordinator just did.
type EventKind string

const (
	EventState      EventKind = "state"
	EventSubmit     EventKind = "submit"
	EventDiscard    EventKind = "discard"
	EventComplete   EventKind = "complete"
	EventUnresolved EventKind = "unresolved"
	EventExhausted  EventKind = "exhausted"
)

// Event is a point-in-time snapshot of the loop, emitted after the
// action it describes has been applied.
type Event struct {
	Kind      EventKind
	State     State
	Key       CorrelationKey
	Ref       string
	Failed    bool
	InFlight  int
	Completed int
	Submitted int
}

// Observer receives events synchronously on the coordinator goroutine.
// It must not block.
type Observer func(Event)
