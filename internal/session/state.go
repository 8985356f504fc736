package session

// State is the lifecycle stage of a session.
type State int

const (
	// Idle is the state before the model is loaded and ready is emitted.
	Idle State = iota
	// Ready means ready was emitted and no audio was accepted yet.
	Ready
	// Streaming is normal operation, looping on chunk and flush messages.
	Streaming
	// Draining is entered on stop while the final pass runs.
	Draining
	// Terminated is the end state; the loop has returned.
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
