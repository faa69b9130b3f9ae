package store

import (
	"context"
	"errors"
	"time"

	"github.com/intervoxai/intervox/internal/transcript"
)

// ErrNotFound is returned when no session record matches the requested id.
var ErrNotFound = errors.New("session record not found")

// SessionRecord is the persisted outcome of one voice session.
type SessionRecord struct {
	ID              string             `json:"id"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds int                `json:"duration_seconds"`
	Model           string             `json:"model"`
	Language        string             `json:"language"`
	Entries         []transcript.Entry `json:"entries"`
}

// Store persists finished sessions and their transcripts.
type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}
