package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/internal/skill/clock"
)

func fixed(tm time.Time) func() time.Time {
	return func() time.Time { return tm }
}

func TestClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		now    time.Time
		intent string
		want   string
	}{
		{name: "morning", now: time.Date(2026, 3, 9, 10, 15, 0, 0, time.UTC), intent: intent.Time, want: "It's currently 10:15 AM."},
		{name: "leading zero kept", now: time.Date(2026, 3, 9, 21, 5, 0, 0, time.UTC), intent: intent.Time, want: "It's currently 09:05 PM."},
		{name: "midnight", now: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), intent: intent.Time, want: "It's currently 12:00 AM."},
		{name: "date", now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), intent: intent.Date, want: "Today is Monday, January 05, 2026."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := clock.New(clock.WithNow(fixed(tt.now)), clock.WithLocation(time.UTC))
			got, err := s.Handle(context.Background(), intent.Match{Intent: tt.intent})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !got.Success || got.Message != tt.want {
				t.Errorf("Handle = %+v, want success %q", got, tt.want)
			}
		})
	}
}

// The full "what time is it" path: builtin patterns, registry, dispatcher.
func TestClock_WhatTimeIsIt(t *testing.T) {
	t.Parallel()

	reg := skill.NewRegistry()
	reg.MustRegister(clock.New(
		clock.WithNow(fixed(time.Date(2026, 6, 1, 10, 15, 0, 0, time.UTC))),
		clock.WithLocation(time.UTC),
	))
	reg.Freeze()
	d := skill.NewDispatcher(reg)

	m, ok := intent.NewBuiltinParser().Parse("what time is it")
	if !ok {
		t.Fatal("Parse: no match")
	}
	got := d.Dispatch(context.Background(), m)
	if !got.Success || got.Message != "It's currently 10:15 AM." {
		t.Errorf("Dispatch = %+v, want \"It's currently 10:15 AM.\"", got)
	}
}
