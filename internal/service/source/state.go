package source

// State is the lifecycle position of a Source.
//
//	Connecting -> Streaming -> Recovering -> Streaming
//	Connecting -> Failed
//	any        -> Closed
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateRecovering
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the source will produce no more frames.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}
