package session

import (
	"context"
	"time"

	"github.com/intervoxai/intervox/internal/capture"
	"github.com/intervoxai/intervox/internal/client"
)

// ProtocolClient is the session protocol surface the orchestrator drives.
// *client.Client satisfies it.
type ProtocolClient interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error
	SendText(text string) error
	Disconnect() error
	Close() error
	Events() <-chan client.Event
	State() client.State
}

// CapturePipeline is the microphone surface. *capture.Pipeline satisfies it.
type CapturePipeline interface {
	Start() error
	SetMuted(muted bool)
	Muted() bool
	Frames() <-chan capture.Frame
	Levels() <-chan float64
	Close() error
}

// PlaybackPipeline is the speaker surface. *playback.Pipeline satisfies it.
type PlaybackPipeline interface {
	AddFrame(pcm []byte) error
	Stop()
	FadeOut(d time.Duration)
	Levels() <-chan float64
	Complete() <-chan struct{}
	Close() error
}

// Credential grants short-lived proxy access. The upstream provider key
// never reaches the device.
type Credential struct {
	Token     string    `json:"token"`
	LiveURL   string    `json:"live_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialSource fetches session credentials from the proxy.
type CredentialSource interface {
	Fetch(ctx context.Context) (Credential, error)
}

// ContextProvider supplies the system prompt for the agent, for example a
// job description the agent interviews against.
type ContextProvider interface {
	SystemPrompt(ctx context.Context) (string, error)
}

// StaticContext is a ContextProvider returning a fixed prompt.
type StaticContext string

func (s StaticContext) SystemPrompt(context.Context) (string, error) {
	return string(s), nil
}
