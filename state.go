package configflow

// State is the lifecycle position of a Bridge.
type State int32

const (
	Idle State = iota
	Bootstrapping
	Streaming
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Bootstrapping:
		return "bootstrapping"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}
