package client

import (
	"github.com/intervoxai/intervox/internal/transcript"
)

// EventType identifies a session event variant.
type EventType string

const (
	// EventOpen fires once the proxy acknowledges the upstream session.
	EventOpen EventType = "open"
	// EventStateChange fires on every state transition.
	EventStateChange EventType = "state_change"
	// EventAudio carries one decoded PCM16 playback frame.
	EventAudio EventType = "audio"
	// EventText carries inline model text that arrived outside transcription.
	EventText EventType = "text"
	// EventTranscript carries an interim or finalized transcript update.
	EventTranscript EventType = "transcript"
	// EventTurnComplete carries the finalized entries for the finished turn.
	EventTurnComplete EventType = "turn_complete"
	// EventInterrupted fires when the model turn was cut off by the user.
	EventInterrupted EventType = "interrupted"
	// EventError carries a proxy-reported session error.
	EventError EventType = "error"
	// EventClosed fires when the session ends permanently.
	EventClosed EventType = "closed"
)

// Event is a single session notification. Only the fields relevant to the
// event type are populated.
type Event struct {
	Type       EventType
	State      State
	SessionID  string
	PCM        []byte
	SampleRate int
	Text       string
	Update     transcript.Update
	Entries    []transcript.Entry
	Err        error
}
