package workflow

// State is a lifecycle state of a Workflow.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateCapturing
	StateProcessing
	StatePersisting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	case StateProcessing:
		return "processing"
	case StatePersisting:
		return "persisting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
