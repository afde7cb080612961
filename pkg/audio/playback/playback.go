// Package playback schedules decoded agent speech for gapless rendering on
// an output audio clock.
//
// The [Scheduler] owns a cursor into the clock's future: each incoming frame
// is scheduled at the later of the cursor and the clock's current time, and
// the cursor advances by the frame's duration. Chunks that arrive faster
// than real time therefore play back-to-back with no silence between them,
// while a lagging stream falls back to "as soon as possible". A barge-in
// flush stops everything that is still scheduled and rewinds the cursor to
// now, so stale agent speech never keeps playing over the caller.
package playback

import (
	"sync"
	"time"

	"github.com/hearthline/hearthline/pkg/audio"
)

// Clock is the output audio clock. Now is monotonic time since the clock
// (and therefore the session's output stream) started.
type Clock interface {
	Now() time.Duration
}

// Handle controls one clip that has been handed to an [Output].
type Handle interface {
	// Stop silences the clip immediately, whether or not it has started.
	// Safe to call after the clip has finished.
	Stop()
}

// Output renders scheduled clips. Implementations wrap a concrete speaker
// path (the browser gateway, a test fake).
//
// Play must not block: the scheduler calls it from the session's inbound
// event consumer. done must be invoked exactly once when the clip finishes
// playing naturally; it must not be invoked after Stop.
type Output interface {
	Play(clip Clip, done func()) Handle
}

// Clip is a decoded audio buffer paired with its computed start time on the
// output clock.
type Clip struct {
	Frame audio.Frame

	// Start is the position on the output clock at which the clip begins.
	Start time.Duration
}

// End returns the clock position at which the clip finishes.
func (c Clip) End() time.Duration {
	return c.Start + c.Frame.Duration()
}

// Scheduler owns the output-clock cursor and the set of clips that are
// scheduled but not yet finished. All mutation is funneled through its
// methods; the inbound-event consumer is the only scheduling caller, while
// completion callbacks may arrive from the output's own goroutine.
type Scheduler struct {
	clock Clock
	out   Output

	mu     sync.Mutex
	next   time.Duration
	active map[uint64]Handle
	seq    uint64
}

// New creates a Scheduler with its cursor at the clock's current time.
func New(clock Clock, out Output) *Scheduler {
	return &Scheduler{
		clock:  clock,
		out:    out,
		next:   clock.Now(),
		active: make(map[uint64]Handle),
	}
}

// Schedule queues frame for gapless playback and returns the resulting clip.
// The start time is max(cursor, now); the cursor then advances by the
// frame's duration so the following frame lines up exactly behind this one.
func (s *Scheduler) Schedule(frame audio.Frame) Clip {
	s.mu.Lock()
	now := s.clock.Now()
	start := s.next
	if now > start {
		start = now
	}
	clip := Clip{Frame: frame, Start: start}
	s.next = clip.End()

	s.seq++
	id := s.seq
	// Reserve the slot before Play so a synchronous completion (possible with
	// zero-length clips or test outputs) finds something to remove.
	s.active[id] = nil
	s.mu.Unlock()

	handle := s.out.Play(clip, func() { s.finish(id) })

	s.mu.Lock()
	if _, still := s.active[id]; still {
		s.active[id] = handle
	}
	s.mu.Unlock()

	return clip
}

// finish removes a naturally completed clip from the active set.
func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Flush hard-stops every clip in the active set, clears the set, and resets
// the cursor to the clock's current time. Called on barge-in and on session
// teardown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.active))
	for _, h := range s.active {
		if h != nil {
			handles = append(handles, h)
		}
	}
	clear(s.active)
	s.next = s.clock.Now()
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// ActiveCount reports how many clips are scheduled but not yet finished.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the cursor: the clock position at which the next
// scheduled frame will begin if it arrives before playback drains.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// wallClock is a monotonic Clock anchored at its creation time.
type wallClock struct {
	start time.Time
}

// NewWallClock returns a Clock whose zero point is the moment of the call.
// One is created per session so the cursor always starts at the stream head.
func NewWallClock() Clock {
	return &wallClock{start: time.Now()}
}

func (c *wallClock) Now() time.Duration {
	return time.Since(c.start)
}
