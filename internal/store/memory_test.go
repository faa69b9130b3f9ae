package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intervoxai/intervox/internal/transcript"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := SessionRecord{
		ID:              "sess-1",
		StartedAt:       time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		DurationSeconds: 95,
		Model:           "models/gemini-2.0-flash-live-001",
		Language:        "en-US",
		Entries: []transcript.Entry{
			{Speaker: transcript.SpeakerUser, Text: "hello"},
			{Speaker: transcript.SpeakerAgent, Text: "Hi there."},
		},
	}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.DurationSeconds != 95 || len(got.Entries) != 2 {
		t.Fatalf("GetSession() = %+v", got)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := SessionRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession(%s) error = %v", id, err)
		}
	}

	out, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(out) != 2 || out[0].ID != "c" || out[1].ID != "b" {
		t.Fatalf("ListSessions() = %+v, want newest first", out)
	}
}
