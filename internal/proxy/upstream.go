package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/intervoxai/intervox/internal/protocol"
)

// Upstream live-protocol request payloads. The device never sees these; the
// bridge translates the proxy wire protocol into them.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string            `json:"model"`
	GenerationConfig         *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig  *voiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig *prebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *audioBlob `json:"audio,omitempty"`
}

type audioBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string     `json:"role"`
	Parts []textPart `json:"parts"`
}

// buildSetup translates a device connect request into the upstream setup
// payload.
func buildSetup(req protocol.ConnectRequest) setupMessage {
	gen := &generationConfig{ResponseModalities: req.ResponseModalities}
	if len(gen.ResponseModalities) == 0 {
		gen.ResponseModalities = []string{"AUDIO"}
	}
	if req.Voice != "" || req.Language != "" {
		sc := &speechConfig{LanguageCode: req.Language}
		if req.Voice != "" {
			sc.VoiceConfig = &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: req.Voice},
			}
		}
		gen.SpeechConfig = sc
	}

	setup := setupPayload{
		Model:                    req.Model,
		GenerationConfig:         gen,
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if req.SystemPrompt != "" {
		setup.SystemInstruction = &content{Parts: []textPart{{Text: req.SystemPrompt}}}
	}
	return setupMessage{Setup: setup}
}

func buildRealtimeAudio(frame protocol.AudioFrame) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &audioBlob{
				Data:     frame.PCM16Base64,
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", frame.SampleRate),
			},
		},
	}
}

func buildTextTurn(msg protocol.TextInput) clientContentMessage {
	return clientContentMessage{
		ClientContent: clientContent{
			Turns:        []contentTurn{{Role: "user", Parts: []textPart{{Text: msg.Text}}}},
			TurnComplete: true,
		},
	}
}

// isSetupComplete reports whether a raw upstream payload is the handshake
// acknowledgment.
func isSetupComplete(raw []byte) bool {
	var probe struct {
		SetupComplete *json.RawMessage `json:"setupComplete"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.SetupComplete != nil
}

// dialUpstream opens the provider live websocket and sends the setup
// payload. The API key travels in the query string, proxy-side only.
func dialUpstream(ctx context.Context, upstreamURL, apiKey string, req protocol.ConnectRequest) (*websocket.Conn, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	if err := conn.WriteJSON(buildSetup(req)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}
	return conn, nil
}
