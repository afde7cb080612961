// Package mock provides an in-memory implementation of the live provider
// interfaces for testing. The mock session's event stream is scripted by the
// test, and every outbound call is recorded for later inspection.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/live"
)

// Compile-time assertions that the mocks satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*Session)(nil)

// ToolResult records one SendToolResult call.
type ToolResult struct {
	CallID string
	Name   string
	Result map[string]any
}

// Session is a scripted live.Session. Tests push events with [Session.Emit]
// and end the stream with [Session.Finish].
type Session struct {
	// SendAudioErr, when set, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResultErr, when set, is returned by every SendToolResult call.
	SendToolResultErr error

	events chan live.Event

	mu          sync.Mutex
	audioSent   []audio.Packet
	toolResults []ToolResult
	closed      bool
	finishOnce  sync.Once
}

// NewSession creates a Session with a generously buffered event channel so
// tests can script a whole conversation before the consumer starts reading.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 256)}
}

// Emit places one event on the session's event stream.
func (s *Session) Emit(ev live.Event) {
	s.events <- ev
}

// Finish emits the terminal EventClosed (carrying err, which may be nil) and
// closes the event channel. Idempotent.
func (s *Session) Finish(err error) {
	s.finishOnce.Do(func() {
		s.events <- live.Event{Type: live.EventClosed, Err: err}
		close(s.events)
	})
}

// SendAudio records the packet.
func (s *Session) SendAudio(pkt audio.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.audioSent = append(s.audioSent, pkt)
	return nil
}

// SendToolResult records the call.
func (s *Session) SendToolResult(callID, name string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendToolResultErr != nil {
		return s.SendToolResultErr
	}
	s.toolResults = append(s.toolResults, ToolResult{CallID: callID, Name: name, Result: result})
	return nil
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close marks the session closed and finishes the event stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Finish(nil)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AudioSent returns a copy of every packet passed to SendAudio, in order.
func (s *Session) AudioSent() []audio.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Packet, len(s.audioSent))
	copy(out, s.audioSent)
	return out
}

// ToolResults returns a copy of every recorded SendToolResult call, in order.
func (s *Session) ToolResults() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResult, len(s.toolResults))
	copy(out, s.toolResults)
	return out
}

// Provider is a mock live.Provider handing out a preconfigured session.
type Provider struct {
	// Session is returned by Connect. Tests usually assign a [NewSession].
	Session live.Session

	// ConnectErr, when set, makes every Connect fail with it.
	ConnectErr error

	// Caps is returned by Capabilities.
	Caps live.Capabilities

	mu       sync.Mutex
	connects []live.SessionConfig
}

// Connect records cfg and returns the preconfigured session.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.connects = append(p.connects, cfg)
	p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		return nil, fmt.Errorf("mock: no session configured")
	}
	return p.Session, nil
}

// Capabilities returns the configured capabilities.
func (p *Provider) Capabilities() live.Capabilities { return p.Caps }

// ConnectCalls returns a copy of the configs passed to Connect, in order.
func (p *Provider) ConnectCalls() []live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]live.SessionConfig, len(p.connects))
	copy(out, p.connects)
	return out
}
