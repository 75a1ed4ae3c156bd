package engine

// State is a phase of the replenishment loop.
type State int

const (
	StatePriming State = iota + 1
	StateSteady
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePriming:
		return "PRIMING"
	case StateSteady:
		return "STEADY"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	default:
		return "UNSTARTED"
	}
}
