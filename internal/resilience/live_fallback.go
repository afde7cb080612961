package resilience

import (
	"context"

	"github.com/hearthline/hearthline/pkg/live"
)

// LiveFallback implements [live.Provider] with automatic failover across
// multiple speech-to-speech backends, such as Gemini Live primary with OpenAI
// Realtime as the fallback. Only the connection attempt participates in
// failover; once a session is open, its events and errors belong to whichever
// backend produced it.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

// Compile-time interface assertion.
var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional live provider as a fallback.
func (f *LiveFallback) AddFallback(name string, provider live.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect dials the first healthy backend and returns its session. If the
// primary refuses the connection or its circuit breaker is open, subsequent
// fallbacks are tried in order.
//
// Voice names are provider-specific, so callers using mixed backends should
// keep cfg.Voice to names every registered backend accepts, or leave it empty
// for the provider default.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	return ExecuteWithResult(f.group, func(p live.Provider) (live.Session, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LiveFallback) Capabilities() live.Capabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return live.Capabilities{}
}
