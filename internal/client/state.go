package client

// State is the observable lifecycle phase of a live session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// Active reports whether the session holds an established transport.
func (s State) Active() bool {
	switch s {
	case StateListening, StateProcessing, StateSpeaking:
		return true
	default:
		return false
	}
}
