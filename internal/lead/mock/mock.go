// Package mock provides a recording lead.Sink for tests.
package mock

import (
	"context"
	"sync"

	"github.com/hearthline/hearthline/internal/lead"
)

var _ lead.Sink = (*Sink)(nil)

// Sink records every submitted lead and optionally fails on demand.
type Sink struct {
	// SubmitErr, when set, is returned by every Submit call. The record is
	// still captured so tests can assert the attempt.
	SubmitErr error

	mu        sync.Mutex
	submitted []lead.Record
	waiters   []chan struct{}
}

// Submit records rec.
func (s *Sink) Submit(_ context.Context, rec lead.Record) error {
	s.mu.Lock()
	s.submitted = append(s.submitted, rec)
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
	s.mu.Unlock()
	return s.SubmitErr
}

// Submitted returns a copy of every recorded lead, in order.
func (s *Sink) Submitted() []lead.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lead.Record, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// NextSubmit returns a channel closed the next time Submit is called. Use it
// to await asynchronous deliveries without sleeping.
func (s *Sink) NextSubmit() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch
}
