package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies proxy wire payload variants.
type MessageType string

// Device -> proxy.
const (
	TypeConnect    MessageType = "connect"
	TypeAudio      MessageType = "audio"
	TypeText       MessageType = "text"
	TypeDisconnect MessageType = "disconnect"
)

// Proxy -> device.
const (
	TypeConnected       MessageType = "connected"
	TypeError           MessageType = "error"
	TypeUpstreamClose   MessageType = "gemini_close"
	TypeUpstreamMessage MessageType = "gemini_message"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ConnectRequest initiates a live session through the proxy. The upstream
// provider credential never appears here; the proxy holds it.
type ConnectRequest struct {
	Type               MessageType `json:"type"`
	Token              string      `json:"token"`
	Model              string      `json:"model"`
	ResponseModalities []string    `json:"response_modalities,omitempty"`
	SystemPrompt       string      `json:"system_prompt,omitempty"`
	Voice              string      `json:"voice,omitempty"`
	Language           string      `json:"language,omitempty"`
}

// AudioFrame carries one captured microphone frame.
type AudioFrame struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

// TextInput carries a typed turn, bypassing audio.
type TextInput struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// DisconnectRequest politely ends the session before the transport closes.
type DisconnectRequest struct {
	Type MessageType `json:"type"`
}

// Connected acknowledges session establishment with the upstream provider.
type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// ErrorMessage reports a proxy-side failure for the current session.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// UpstreamClose reports that the upstream live connection closed.
type UpstreamClose struct {
	Type   MessageType `json:"type"`
	Code   int         `json:"code"`
	Reason string      `json:"reason,omitempty"`
}

// UpstreamMessage wraps a passthrough upstream protocol envelope.
type UpstreamMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeServerMessage parses a proxy -> device payload.
func DecodeServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUpstreamClose:
		var msg UpstreamClose
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUpstreamMessage:
		var msg UpstreamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Data) == 0 {
			return nil, errors.New("invalid gemini_message: missing data")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// DecodeClientMessage parses a device -> proxy payload.
func DecodeClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeConnect:
		var msg ConnectRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Model == "" {
			return nil, errors.New("invalid connect: missing model")
		}
		return msg, nil
	case TypeAudio:
		var msg AudioFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio frame")
		}
		return msg, nil
	case TypeText:
		var msg TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text: empty")
		}
		return msg, nil
	case TypeDisconnect:
		var msg DisconnectRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
