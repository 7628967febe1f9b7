package session

// State is a relay session's lifecycle position.
//
//	IDLE -> CONNECTING_AI -> STREAMING -> CLOSING -> CLOSED
//	CONNECTING_AI -> CLOSED (AI setup failed)
type State int32

const (
	StateIdle State = iota
	StateConnectingAI
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnectingAI:
		return "CONNECTING_AI"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// terminating reports whether teardown has begun.
func (s State) terminating() bool {
	return s == StateClosing || s == StateClosed
}
