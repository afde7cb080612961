// Package transcript assembles the live conversation log from streaming
// transcription events.
//
// Providers emit a series of partial readings for each utterance followed by
// one final. The [Assembler] folds that stream into a stable entry list:
// each new partial replaces the still-open entry for its speaker rather than
// appending, so the log never shows an utterance twice. A final settles the
// open entry; the next partial for that speaker then opens a fresh one.
package transcript

import (
	"sync"
	"time"

	"github.com/hearthline/hearthline/pkg/live"
)

// Entry is one utterance in the conversation log.
type Entry struct {
	// Role identifies the speaker.
	Role live.Role

	// Text is the utterance text: the latest partial reading while the
	// entry is open, the settled text once final.
	Text string

	// Final reports whether the entry will no longer change.
	Final bool

	// At is when the entry was first opened.
	At time.Time
}

// UpdateFunc observes the log after every mutation. It is called with a
// snapshot; the assembler's lock is not held.
type UpdateFunc func(entries []Entry)

// Assembler folds partial/final transcript events into an ordered entry
// list. Safe for concurrent use, though events for one session normally
// arrive from a single consumer goroutine.
type Assembler struct {
	onUpdate UpdateFunc

	mu      sync.Mutex
	entries []Entry

	// openIdx is the index of the in-progress entry per speaker; a missing
	// key means the speaker has no open entry. Replacement is deliberately
	// per-role rather than last-entry-only: when speakers interleave, a
	// late partial updates that speaker's own open entry, not whichever
	// entry happens to be last.
	openIdx map[live.Role]int

	now func() time.Time
}

// NewAssembler creates an empty Assembler. onUpdate may be nil.
func NewAssembler(onUpdate UpdateFunc) *Assembler {
	return &Assembler{
		onUpdate: onUpdate,
		openIdx:  map[live.Role]int{},
		now:      time.Now,
	}
}

// Partial records a cumulative partial reading for role. If the speaker has
// an open entry its text is replaced in place; otherwise a new entry is
// appended and becomes the open one.
func (a *Assembler) Partial(role live.Role, text string) {
	a.mu.Lock()
	if idx, ok := a.openIdx[role]; ok {
		a.entries[idx].Text = text
	} else {
		a.entries = append(a.entries, Entry{Role: role, Text: text, At: a.now()})
		a.openIdx[role] = len(a.entries) - 1
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snapshot)
}

// Final settles the speaker's utterance. An open entry is overwritten with
// the final text and marked settled; with no open entry the final appends
// directly (a provider may emit a final with no preceding partials).
func (a *Assembler) Final(role live.Role, text string) {
	a.mu.Lock()
	if idx, ok := a.openIdx[role]; ok {
		a.entries[idx].Text = text
		a.entries[idx].Final = true
		delete(a.openIdx, role)
	} else {
		a.entries = append(a.entries, Entry{Role: role, Text: text, Final: true, At: a.now()})
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snapshot)
}

// TurnComplete closes out a turn: any entries still open are settled with
// their latest text. Providers normally final everything before the turn
// boundary; this is the backstop for the ones that do not.
func (a *Assembler) TurnComplete() {
	a.mu.Lock()
	for role, idx := range a.openIdx {
		a.entries[idx].Final = true
		delete(a.openIdx, role)
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snapshot)
}

// Entries returns a copy of the current log in order.
func (a *Assembler) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Reset clears the log for a new session.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.entries = nil
	clear(a.openIdx)
	a.mu.Unlock()
}

func (a *Assembler) snapshotLocked() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Assembler) notify(entries []Entry) {
	if a.onUpdate != nil {
		a.onUpdate(entries)
	}
}
