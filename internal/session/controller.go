// Package session orchestrates one live voice conversation end to end.
//
// The Controller owns the session lifecycle (idle, connecting, active,
// closing) and wires the capture pipeline, the playback scheduler, the
// transcript assembler, and the tool-call dispatcher to a single provider
// session. All inbound provider events are consumed by one goroutine, so
// playback and persona state never see concurrent writers and events are
// processed strictly in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthline/hearthline/internal/intake"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/internal/transcript"
	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/audio/capture"
	"github.com/hearthline/hearthline/pkg/audio/playback"
	"github.com/hearthline/hearthline/pkg/live"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateActive:     "active",
	StateClosing:    "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Errors returned by [Controller.Start].
var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrStopped        = errors.New("session: stopped before connect completed")
)

// Default audio parameters.
const (
	defaultCaptureRate  = 16000
	defaultFrameSamples = 4096
)

// Config wires a [Controller]'s collaborators.
type Config struct {
	// Provider opens live sessions. Required.
	Provider live.Provider

	// Device is the exclusive microphone capability. Required.
	Device audio.CaptureDevice

	// Output renders scheduled clips. Required.
	Output playback.Output

	// Clock is the playback clock. Defaults to a wall clock.
	Clock playback.Clock

	// Dispatcher executes inbound tool calls. Required.
	Dispatcher *intake.Dispatcher

	// Assembler receives transcript fragments. Required.
	Assembler *transcript.Assembler

	// Personas selects the voice for the next session. Required.
	Personas *persona.Machine

	// Instructions is the system instruction sent at session setup.
	Instructions string

	// CaptureRate is the microphone sample rate. Defaults to 16000.
	CaptureRate int

	// FrameSamples is the capture frame size. Defaults to 4096.
	FrameSamples int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnState, when set, is called after every lifecycle transition.
	OnState func(State)
}

// Controller runs at most one live session at a time.
//
// Start and Stop are safe to call from any goroutine. Inbound events are
// handled by a single internal consumer; events that race a Stop are
// discarded rather than processed against torn-down collaborators.
type Controller struct {
	cfg       Config
	log       *slog.Logger
	scheduler *playback.Scheduler

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every teardown so stale event loops go quiet
	sess     live.Session
	pipeline *capture.Pipeline
}

// NewController creates a Controller in the idle state.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = playback.NewWallClock()
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = defaultCaptureRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = defaultFrameSamples
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		cfg:       cfg,
		log:       cfg.Logger,
		scheduler: playback.New(cfg.Clock, cfg.Output),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is currently open.
func (c *Controller) Active() bool {
	return c.State() == StateActive
}

// Scheduler exposes the playback scheduler for observability (active clip
// count, next start time). Mutation stays inside the event loop.
func (c *Controller) Scheduler() *playback.Scheduler {
	return c.scheduler
}

// Start opens a provider session and begins streaming microphone audio.
// It returns [ErrAlreadyStarted] when a session is already connecting or
// active, and [ErrStopped] when Stop was called while the connect handshake
// was still in flight. Device and connect failures return the controller to
// idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()
	c.notify(StateConnecting)

	active := c.cfg.Personas.Active()
	sess, err := c.cfg.Provider.Connect(ctx, live.SessionConfig{
		Instructions:     c.cfg.Instructions,
		Voice:            active.Voice,
		Tools:            c.cfg.Dispatcher.ToolSchemas(),
		InputSampleRate:  c.cfg.CaptureRate,
		OutputSampleRate: audio.PlaybackRate,
		TranscribeInput:  true,
		TranscribeOutput: true,
	})
	if err != nil {
		c.toIdle(gen)
		return fmt.Errorf("session: connect: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// Stop won the race; the caller no longer wants this session.
		c.mu.Unlock()
		go func() { _ = sess.Close() }()
		return ErrStopped
	}

	pipeline := capture.New(c.cfg.Device, sess.SendAudio, c.cfg.FrameSamples, c.cfg.CaptureRate, c.log)
	if err := pipeline.Start(ctx); err != nil {
		c.mu.Unlock()
		go func() { _ = sess.Close() }()
		c.toIdle(gen)
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.sess = sess
	c.pipeline = pipeline
	c.state = StateActive
	c.mu.Unlock()
	c.notify(StateActive)

	c.log.Info("session active", "voice", active.Voice, "persona", active.Name)
	go c.eventLoop(gen, sess)
	return nil
}

// Stop ends the session. The microphone is released before Stop returns;
// the provider close handshake finishes in the background, and any events
// it still delivers are discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return
	case StateConnecting:
		c.gen++
		c.state = StateIdle
		c.mu.Unlock()
		c.notify(StateIdle)
		return
	}

	c.gen++
	c.state = StateClosing
	sess, pipeline := c.sess, c.pipeline
	c.sess, c.pipeline = nil, nil
	c.mu.Unlock()
	c.notify(StateClosing)

	if pipeline != nil {
		_ = pipeline.Stop()
	}
	c.scheduler.Flush()
	c.cfg.Personas.Reset()
	if sess != nil {
		go func() {
			if err := sess.Close(); err != nil {
				c.log.Warn("session close", "error", err)
			}
		}()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.notify(StateIdle)
}

// eventLoop is the single consumer of inbound provider events for one
// session generation. It exits when the event channel closes.
func (c *Controller) eventLoop(gen uint64, sess live.Session) {
	for ev := range sess.Events() {
		if !c.currentGen(gen) {
			continue
		}
		c.handleEvent(sess, ev)
	}
	c.remoteClosed(gen)
}

func (c *Controller) handleEvent(sess live.Session, ev live.Event) {
	switch ev.Type {
	case live.EventOpened:
		c.log.Debug("provider session opened")

	case live.EventAudio:
		frame, err := audio.Decode(ev.Audio, 1)
		if err != nil {
			c.log.Warn("dropping malformed audio packet", "error", err)
			return
		}
		c.scheduler.Schedule(frame)

	case live.EventPartialTranscript:
		c.cfg.Assembler.Partial(ev.Role, ev.Text)

	case live.EventFinalTranscript:
		c.cfg.Assembler.Final(ev.Role, ev.Text)

	case live.EventToolCall:
		result := c.cfg.Dispatcher.Dispatch(context.Background(), ev.Call)
		if err := sess.SendToolResult(ev.Call.ID, ev.Call.Name, result); err != nil {
			c.log.Warn("tool result send failed", "tool", ev.Call.Name, "error", err)
		}

	case live.EventInterrupted:
		c.log.Debug("caller barge-in, flushing playback")
		c.scheduler.Flush()

	case live.EventTurnComplete:
		c.cfg.Assembler.TurnComplete()

	case live.EventError:
		c.log.Warn("provider stream error", "error", ev.Err)
		c.cfg.Metrics.RecordProviderError(context.Background(), "live", "stream")

	case live.EventClosed:
		if ev.Err != nil {
			c.log.Warn("provider session closed", "error", ev.Err)
		}
	}
}

// remoteClosed tears the session down after the provider closed it. A local
// Stop bumps the generation first, in which case there is nothing left to do.
func (c *Controller) remoteClosed(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StateClosing
	sess, pipeline := c.sess, c.pipeline
	c.sess, c.pipeline = nil, nil
	c.mu.Unlock()
	c.notify(StateClosing)

	if pipeline != nil {
		_ = pipeline.Stop()
	}
	c.scheduler.Flush()
	c.cfg.Personas.Reset()
	if sess != nil {
		_ = sess.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.notify(StateIdle)
	c.log.Info("session ended by remote")
}

// toIdle reverts a failed connect attempt, unless Stop already moved the
// controller on.
func (c *Controller) toIdle(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.mu.Unlock()
	c.notify(StateIdle)
}

func (c *Controller) currentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) notify(s State) {
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}
