package drone

// State is the lifecycle state of the local drone.
type State int

const (
	StateOffline State = iota
	StateOnline
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "Offline"
	case StateOnline:
		return "Online"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}
