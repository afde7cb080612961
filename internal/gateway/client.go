package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/audio/playback"
)

// writeTimeout bounds a single websocket write. A browser that stops reading
// for longer than this is treated as gone.
const writeTimeout = 5 * time.Second

// micBufferBlocks is the capture channel depth. At the default frame size
// this is several seconds of audio; a consumer further behind than that is
// better served by dropping than by queueing.
const micBufferBlocks = 32

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*client)(nil)
	_ audio.CaptureStream = (*micStream)(nil)
	_ playback.Output     = (*client)(nil)
)

// client is the server side of one browser connection. It adapts the
// websocket to the engine's audio capabilities: inbound "audio" frames become
// the session's microphone, and scheduled playback clips go out as "audio"
// frames for the browser's audio context to render.
type client struct {
	conn    *websocket.Conn
	clock   playback.Clock
	log     *slog.Logger
	metrics *observe.Metrics

	// writeMu serialises websocket writes; coder/websocket allows only one
	// writer at a time.
	writeMu sync.Mutex

	// interrupted coalesces barge-in notices: one "interrupt" frame per
	// flush, re-armed by the next outbound audio frame.
	interrupted atomic.Bool

	mu     sync.Mutex
	stream *micStream
}

func newClient(conn *websocket.Conn, clock playback.Clock, log *slog.Logger, metrics *observe.Metrics) *client {
	return &client{conn: conn, clock: clock, log: log, metrics: metrics}
}

// send marshals msg and writes it as one text frame. Write errors are logged
// and swallowed; the read loop notices a dead peer and tears the session down.
func (c *client) send(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal server message", "type", msg.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("websocket write failed", "type", msg.Type, "error", err)
	}
}

// ── Microphone leg ────────────────────────────────────────────────────────────

// Acquire takes the browser microphone. Exclusive: a second Acquire fails
// until the first stream is closed.
func (c *client) Acquire(context.Context) (audio.CaptureStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil, errors.New("gateway: microphone already held")
	}
	s := &micStream{owner: c, ch: make(chan []float32, micBufferBlocks)}
	c.stream = s
	return s, nil
}

// push hands one block of decoded caller samples to the open stream. Blocks
// arriving with no stream open (before start, after stop) are dropped, as are
// blocks that would overflow the buffer.
func (c *client) push(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.closed {
		return
	}
	select {
	case c.stream.ch <- samples:
	default:
		c.log.Debug("capture buffer full, dropping block", "samples", len(samples))
	}
}

// micStream is the browser-fed capture stream.
type micStream struct {
	owner *client

	// closed is guarded by owner.mu, as is every send on ch.
	closed bool
	ch     chan []float32
}

func (s *micStream) Samples() <-chan []float32 { return s.ch }

// Close releases the microphone. Idempotent.
func (s *micStream) Close() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	if s.owner.stream == s {
		s.owner.stream = nil
	}
	return nil
}

// ── Speaker leg ───────────────────────────────────────────────────────────────

// Play ships the clip to the browser immediately and reports natural
// completion when the output clock passes the clip's scheduled end. The
// browser renders on its own audio context; the server-side handle exists so
// a barge-in flush can tell the browser to drop everything it has buffered.
func (c *client) Play(clip playback.Clip, done func()) playback.Handle {
	pkt := audio.Encode(clip.Frame)
	c.interrupted.Store(false)
	c.send(serverMessage{Type: msgAudio, Data: pkt.Data, SampleRate: clip.Frame.SampleRate})
	c.metrics.FramesSent.Add(context.Background(), 1)
	c.metrics.ScheduledClips.Add(context.Background(), 1)

	h := &clipHandle{client: c, done: done}
	delay := clip.End() - c.clock.Now()
	if delay < 0 {
		delay = 0
	}
	h.timer = time.AfterFunc(delay, h.finish)
	return h
}

// clipHandle tracks one in-flight clip on the browser side.
type clipHandle struct {
	client *client
	done   func()

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
}

// finish fires when the clip has fully played out on the output clock.
func (h *clipHandle) finish() {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	h.mu.Unlock()
	h.client.metrics.ScheduledClips.Add(context.Background(), -1)
	h.done()
}

// Stop silences the clip and tells the browser to drop its buffered audio.
// A flush stops many clips at once; only the first produces an "interrupt"
// frame.
func (h *clipHandle) Stop() {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	h.timer.Stop()
	h.mu.Unlock()
	h.client.metrics.ScheduledClips.Add(context.Background(), -1)

	if h.client.interrupted.CompareAndSwap(false, true) {
		h.client.send(serverMessage{Type: msgInterrupt})
		h.client.metrics.Interruptions.Add(context.Background(), 1)
	}
}
