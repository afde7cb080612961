// Package capture runs the microphone-to-transport leg of a session: it
// acquires a [audio.CaptureDevice], rebuffers the device's raw sample blocks
// into fixed frames, and hands each frame, PCM-encoded, to a send function
// in strict capture order.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthline/hearthline/pkg/audio"
)

// SendFunc delivers one encoded packet upstream. A non-nil error marks that
// packet as lost; the pipeline logs it and keeps streaming.
type SendFunc func(audio.Packet) error

// Pipeline owns one open capture stream and the goroutine draining it.
// Create with [New], drive with Start and Stop. A Pipeline is single-use:
// after Stop, create a new one for the next session.
type Pipeline struct {
	device    audio.CaptureDevice
	send      SendFunc
	frameSize int
	rate      int
	log       *slog.Logger

	mu      sync.Mutex
	stream  audio.CaptureStream
	done    chan struct{}
	started bool
}

// New creates a Pipeline that emits frames of frameSize samples at the given
// capture sample rate.
func New(device audio.CaptureDevice, send SendFunc, frameSize, sampleRate int, log *slog.Logger) *Pipeline {
	return &Pipeline{
		device:    device,
		send:      send,
		frameSize: frameSize,
		rate:      sampleRate,
		log:       log,
		done:      make(chan struct{}),
	}
}

// Start acquires the device and begins streaming. Acquisition failure is
// fatal: no goroutine is started and the caller must abort session setup.
// ctx bounds the acquisition only.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("capture: pipeline already started")
	}

	stream, err := p.device.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("capture: acquire device: %w", err)
	}
	p.stream = stream
	p.started = true

	go p.run(stream)
	return nil
}

// run drains the stream until it closes, slicing blocks into frames and
// sending each one in order.
func (p *Pipeline) run(stream audio.CaptureStream) {
	defer close(p.done)

	slicer := audio.NewSlicer(p.frameSize, p.rate)
	for block := range stream.Samples() {
		for _, frame := range slicer.Push(block) {
			if err := p.send(audio.Encode(frame)); err != nil {
				// The session may be tearing down or the transport hiccuped.
				// Either way the stream keeps running; only this frame is lost.
				p.log.Warn("dropping capture frame", "error", err)
			}
		}
	}
}

// Stop releases the microphone. The drain goroutine exits once the device
// closes its sample channel; any buffered partial frame is discarded.
// Safe to call more than once and before Start.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	return nil
}

// Done is closed once the drain goroutine has exited. It never closes if
// Start failed.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}
