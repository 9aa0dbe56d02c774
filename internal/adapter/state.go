package adapter

// State is the lifecycle state of a Controller.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingReady
	StateActive
	StateReinitializing
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateActive:
		return "active"
	case StateReinitializing:
		return "reinitializing"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
