package protocol

import (
	"encoding/json"
	"fmt"
)

// ServerEnvelope is the passthrough upstream live-protocol envelope carried
// inside a gemini_message payload.
type ServerEnvelope struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ToolCall      *ToolCall      `json:"toolCall,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
}

type SetupComplete struct{}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

// Part carries either model text or inline binary data, never both.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Blob struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ParseServerEnvelope decodes the upstream envelope from a gemini_message
// data payload.
func ParseServerEnvelope(data json.RawMessage) (ServerEnvelope, error) {
	var env ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerEnvelope{}, fmt.Errorf("invalid upstream envelope: %w", err)
	}
	return env, nil
}
