package gateway

import (
	"context"
	"log/slog"
	"testing"

	"github.com/hearthline/hearthline/pkg/audio/playback"
)

// ─── TestMicrophoneExclusivity ───────────────────────────────────────────────

func TestMicrophoneExclusivity(t *testing.T) {
	t.Parallel()

	cl := newClient(nil, playback.NewWallClock(), slog.New(slog.DiscardHandler), nil)

	stream, err := cl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := cl.Acquire(context.Background()); err == nil {
		t.Fatal("second acquire succeeded while the first stream is open")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if _, err := cl.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

// ─── TestPushSemantics ───────────────────────────────────────────────────────

func TestPushSemantics(t *testing.T) {
	t.Parallel()

	cl := newClient(nil, playback.NewWallClock(), slog.New(slog.DiscardHandler), nil)

	// No stream open: blocks are dropped, not queued for the next stream.
	cl.push([]float32{0.1})

	stream, err := cl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cl.push([]float32{0.2, 0.3})

	select {
	case block := <-stream.Samples():
		if len(block) != 2 {
			t.Errorf("block length = %d; want 2", len(block))
		}
	default:
		t.Fatal("pushed block not readable")
	}

	// Closing drains to channel close; a late push must not panic.
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	cl.push([]float32{0.4})
	if _, ok := <-stream.Samples(); ok {
		t.Error("samples channel still open after close")
	}
}
