// Package resilience keeps Hearthline's outbound dependencies from taking a
// conversation down with them.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) used
// wherever the engine calls something that can be down for a while: the CRM
// webhook behind the lead sink, or a speech backend's connect handshake.
// [FallbackGroup] layers per-entry breakers over an ordered list of providers
// of one type, so a session can fail over from Gemini Live to OpenAI Realtime
// without the caller seeing more than a delay.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// refusing calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls; their outcome
	// decides between closing and re-opening.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, metrics, and state-change
	// notifications, e.g. "lead-webhook" or a provider registry name.
	Name string

	// MaxFailures is how many consecutive failures it takes to trip the
	// breaker open. Default 5. The lead webhook uses 3: once a CRM is
	// down, every further attempt costs a full HTTP timeout per lead.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// dependency again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default 3.
	HalfOpenMax int

	// OnStateChange, when set, observes every transition. It is called
	// without the breaker's lock held; recording metrics or logging from
	// it is fine.
	OnStateChange func(name string, from, to State)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// transition is one state change pending notification.
type transition struct {
	from, to State
}

// CircuitBreaker guards one outbound dependency. Consecutive failures trip it
// open; after ResetTimeout a few probe calls decide whether the dependency
// has recovered. Safe for concurrent use.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	log           *slog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker creates a closed breaker. Zero-value config fields get
// the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		log:           cfg.Logger,
	}
}

// Execute runs fn unless the breaker refuses the call. An open breaker whose
// reset timeout has elapsed flips to half-open first; half-open admits at
// most HalfOpenMax probes. fn's error is returned unwrapped so callers can
// match their own sentinels through the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	ok, inHalfOpen := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(err, inHalfOpen)
	return err
}

// admit decides whether one call may proceed and does the open to half-open
// flip. The second result reports whether the call counts against the probe
// budget.
func (cb *CircuitBreaker) admit() (ok, inHalfOpen bool) {
	cb.mu.Lock()
	var pending *transition

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		pending = &transition{from: StateOpen, to: StateHalfOpen}

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, false
		}
	}

	inHalfOpen = cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	if pending != nil {
		cb.log.Info("circuit breaker probing recovery", "name", cb.name)
		cb.notify(*pending)
	}
	return true, inHalfOpen
}

// settle applies one call outcome and fires any resulting transition.
func (cb *CircuitBreaker) settle(callErr error, inHalfOpen bool) {
	cb.mu.Lock()
	var pending *transition

	switch {
	case callErr != nil && inHalfOpen:
		// One failed probe is enough evidence; back to open.
		cb.lastFailure = time.Now()
		cb.halfOpenFails++
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		pending = &transition{from: StateHalfOpen, to: StateOpen}

	case callErr != nil:
		cb.lastFailure = time.Now()
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.maxFailures && cb.state == StateClosed {
			cb.state = StateOpen
			pending = &transition{from: StateClosed, to: StateOpen}
		}

	case inHalfOpen:
		if cb.halfOpenCalls-cb.halfOpenFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			pending = &transition{from: StateHalfOpen, to: StateClosed}
		}

	default:
		cb.consecutiveFail = 0
	}

	fails := cb.consecutiveFail
	cb.mu.Unlock()

	if pending == nil {
		return
	}
	switch pending.to {
	case StateOpen:
		cb.log.Warn("circuit breaker opened",
			"name", cb.name, "from", pending.from.String(), "consecutive_failures", fails)
	case StateClosed:
		cb.log.Info("circuit breaker closed after successful probes", "name", cb.name)
	}
	cb.notify(*pending)
}

func (cb *CircuitBreaker) notify(tr transition) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, tr.from, tr.to)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored state flips on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	cb.mu.Unlock()

	cb.log.Info("circuit breaker manually reset", "name", cb.name)
	if from != StateClosed {
		cb.notify(transition{from: from, to: StateClosed})
	}
}
