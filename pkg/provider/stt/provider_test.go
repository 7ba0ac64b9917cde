package stt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want stt.ErrorKind
	}{
		{name: "plain error", ctx: context.Background(), err: errors.New("boom"), want: stt.KindUnavailable},
		{name: "deadline error", ctx: context.Background(), err: context.DeadlineExceeded, want: stt.KindTimeout},
		{name: "expired ctx", ctx: expired, err: errors.New("read: closed"), want: stt.KindTimeout},
		{name: "already classified", ctx: expired, err: stt.EmptyInput("x"), want: stt.KindEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := stt.Classify(tt.ctx, "engine", tt.err)
			kind, ok := stt.KindOf(err)
			if !ok {
				t.Fatalf("KindOf(%v) not ok", err)
			}
			if kind != tt.want {
				t.Errorf("kind = %v, want %v", kind, tt.want)
			}
		})
	}

	if stt.Classify(context.Background(), "engine", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestRecognitionError_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	err := stt.Unavailable("deepgram", base)
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got != "stt: deepgram: unavailable: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCheckSegment(t *testing.T) {
	t.Parallel()

	if err := stt.CheckSegment("e", audio.Segment{}); err == nil {
		t.Error("expected EmptyInput for empty segment")
	}
	var seg audio.Segment
	seg.Append(audio.AudioFrame{Data: []byte{1, 0}, SampleRate: 16000, Channels: 1})
	if err := stt.CheckSegment("e", seg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()
	for in, want := range map[float64]float64{-0.5: 0, 0.3: 0.3, 1.7: 1} {
		if got := stt.Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
