// Package mock provides in-memory fakes for the audio capture and playback
// interfaces, used by tests across the engine.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/audio/playback"
)

// ErrDeviceHeld is returned by [Device.Acquire] while a stream is open.
var ErrDeviceHeld = errors.New("mock: capture device already held")

// Device is a fake [audio.CaptureDevice] backed by a channel the test pushes
// sample blocks into. It enforces the real device's exclusivity contract.
type Device struct {
	// AcquireErr, when set, makes every Acquire fail with it.
	AcquireErr error

	mu           sync.Mutex
	held         bool
	current      *Stream
	acquireCalls int
}

var _ audio.CaptureDevice = (*Device)(nil)

// Acquire hands out the device's single stream, failing while one is open.
func (d *Device) Acquire(ctx context.Context) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireCalls++
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	if d.held {
		return nil, ErrDeviceHeld
	}
	d.held = true
	s := &Stream{
		samples: make(chan []float32, 64),
		release: func() {
			d.mu.Lock()
			d.held = false
			d.current = nil
			d.mu.Unlock()
		},
	}
	d.current = s
	return s, nil
}

// AcquireCalls reports how many times Acquire was invoked.
func (d *Device) AcquireCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquireCalls
}

// Held reports whether a stream is currently open.
func (d *Device) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// Current returns the open stream, or nil.
func (d *Device) Current() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Stream is the fake capture stream handed out by [Device].
type Stream struct {
	samples chan []float32
	release func()

	mu     sync.Mutex
	closed bool
}

var _ audio.CaptureStream = (*Stream)(nil)

// Push feeds one raw sample block to the stream's consumer. Push after
// Close panics, same as sending on a closed channel would in a real driver.
func (s *Stream) Push(block []float32) {
	s.samples <- block
}

func (s *Stream) Samples() <-chan []float32 {
	return s.samples
}

// Close releases the device and ends the sample channel. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.samples)
	s.release()
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Clock is a manually advanced [playback.Clock].
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

var _ playback.Clock = (*Clock)(nil)

func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to d.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Output is a recording [playback.Output]. Completion callbacks are fired
// by the test via [Output.Finish].
type Output struct {
	mu      sync.Mutex
	clips   []playback.Clip
	dones   []func()
	handles []*Handle
}

var _ playback.Output = (*Output)(nil)

func (o *Output) Play(clip playback.Clip, done func()) playback.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &Handle{}
	o.clips = append(o.clips, clip)
	o.dones = append(o.dones, done)
	o.handles = append(o.handles, h)
	return h
}

// Clips returns a copy of every clip played so far, in order.
func (o *Output) Clips() []playback.Clip {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]playback.Clip, len(o.clips))
	copy(out, o.clips)
	return out
}

// Handles returns the handles issued so far, in play order.
func (o *Output) Handles() []*Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Handle, len(o.handles))
	copy(out, o.handles)
	return out
}

// Finish fires the completion callback of the i-th played clip.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	done := o.dones[i]
	o.mu.Unlock()
	done()
}

// Handle records Stop calls on a played clip.
type Handle struct {
	mu      sync.Mutex
	stopped bool
}

var _ playback.Handle = (*Handle)(nil)

func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
