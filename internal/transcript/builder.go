package transcript

import (
	"strings"
	"time"
)

// Speaker identifies which side of the conversation produced a piece of text.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is a finalized transcript line. Its text is never mutated after
// creation.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Update is an interim or finalized-looking transcript emission produced
// while a turn is still in flight.
type Update struct {
	Speaker Speaker
	Text    string
	Final   bool
}

// Builder reconstructs transcripts from incremental recognition fragments.
// It owns one accumulation buffer per speaker plus a full-turn accumulator
// for the agent's already-extracted sentences. Not safe for concurrent use;
// the inbound message handler is the single writer.
type Builder struct {
	input  string // user speech, accumulated verbatim
	output string // agent speech still awaiting a sentence boundary
	turn   string // agent sentences already extracted this turn

	lastAgentEmitted string
}

// AddInput appends a user transcription fragment and returns the cleaned
// accumulated buffer as a live caption update.
func (b *Builder) AddInput(fragment string) (Update, bool) {
	b.input += fragment
	cleaned := Clean(b.input)
	if cleaned == "" {
		return Update{}, false
	}
	return Update{Speaker: SpeakerUser, Text: cleaned, Final: false}, true
}

// AddOutput appends an agent transcription fragment. Completed sentences are
// emitted as finalized-looking chunks and retained in the full-turn
// accumulator; an unterminated tail is emitted as a partial update when it
// changed since the last emission.
func (b *Builder) AddOutput(fragment string) (Update, bool) {
	b.output += fragment
	cleaned := Clean(b.output)
	complete, remainder := SplitSentences(cleaned)
	if complete != "" {
		b.output = remainder
		if complete == b.lastAgentEmitted {
			return Update{}, false
		}
		b.lastAgentEmitted = complete
		b.turn = joinChunks(b.turn, complete)
		return Update{Speaker: SpeakerAgent, Text: complete, Final: true}, true
	}
	if cleaned == "" || cleaned == b.lastAgentEmitted {
		return Update{}, false
	}
	b.lastAgentEmitted = cleaned
	return Update{Speaker: SpeakerAgent, Text: cleaned, Final: false}, true
}

// FinishTurn flushes both accumulation buffers as finalized entries and
// clears all transcript state. The agent entry combines the full-turn
// accumulator with any unterminated remainder.
func (b *Builder) FinishTurn(now time.Time) []Entry {
	var entries []Entry
	if user := Clean(b.input); user != "" {
		entries = append(entries, Entry{Speaker: SpeakerUser, Text: user, Timestamp: now})
	}
	if agent := Clean(joinChunks(b.turn, b.output)); agent != "" {
		entries = append(entries, Entry{Speaker: SpeakerAgent, Text: agent, Timestamp: now})
	}
	b.Discard()
	return entries
}

// Discard drops all accumulated transcript state without finalizing. Used on
// interruption and disconnect, where the turn produced no reliable result.
func (b *Builder) Discard() {
	b.input = ""
	b.output = ""
	b.turn = ""
	b.lastAgentEmitted = ""
}

func joinChunks(acc, chunk string) string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return acc
	}
	if acc == "" {
		return chunk
	}
	// Clean collapses this joint space again for CJK text.
	return acc + " " + chunk
}
