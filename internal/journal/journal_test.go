package journal_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/journal"
)

func entry(i int) journal.Entry {
	return journal.Entry{
		SessionID:     fmt.Sprintf("s-%d", i),
		StartedAt:     time.Date(2026, 5, 4, 10, i, 0, 0, time.UTC),
		Outcome:       journal.OutcomeCompleted,
		WakePhrase:    "hey hark",
		Transcript:    "what time is it",
		Engine:        "whisper",
		Intent:        "time",
		Entities:      map[string]string{"n": fmt.Sprint(i)},
		Success:       true,
		Message:       "It's currently 10:15 AM.",
		TotalDuration: 1200 * time.Millisecond,
	}
}

func sessionIDs(entries []journal.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SessionID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := journal.NewMemoryStore(3)
	for i := range 5 {
		if err := s.Append(ctx, entry(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if ids := sessionIDs(got); fmt.Sprint(ids) != "[s-4 s-3 s-2]" {
		t.Errorf("Recent(0) = %v, want newest three", ids)
	}
	got, _ = s.Recent(ctx, 1)
	if ids := sessionIDs(got); fmt.Sprint(ids) != "[s-4]" {
		t.Errorf("Recent(1) = %v", ids)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Append(ctx, entry(9)); !errors.Is(err, journal.ErrClosed) {
		t.Errorf("Append after Close: err = %v, want ErrClosed", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	s := journal.NewFileStore(fsys, "/var/hark/journal.jsonl")

	got, err := s.Recent(ctx, 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("Recent on missing file = %v, %v; want empty", got, err)
	}

	if err := fsys.MkdirAll("/var/hark", 0o755); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := s.Append(ctx, entry(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// A corrupt line does not hide the rest.
	f, _ := fsys.OpenFile("/var/hark/journal.jsonl", os.O_WRONLY|os.O_APPEND, 0o644)
	_, _ = f.Write([]byte("{not json\n"))
	_ = f.Close()
	if err := s.Append(ctx, entry(3)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err = s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if ids := sessionIDs(got); fmt.Sprint(ids) != "[s-3 s-2]" {
		t.Errorf("Recent(2) = %v", ids)
	}
	first := got[1]
	if first.TotalDuration != 1200*time.Millisecond || first.Entities["n"] != "2" || !first.StartedAt.Equal(entry(2).StartedAt) {
		t.Errorf("decoded entry = %+v", first)
	}
}
