package worker

// State is the lifecycle state of a cache generation's manager.
type State int

const (
	StateNew State = iota
	StateInstalling
	StateWaiting
	StateActive
	StateTerminating
	// StateRedundant marks a generation whose install failed or that was replaced while waiting.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}
