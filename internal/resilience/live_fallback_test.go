package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthline/hearthline/pkg/live"
	livemock "github.com/hearthline/hearthline/pkg/live/mock"
)

func TestLiveFallback_Connect_PrimarySuccess(t *testing.T) {
	primarySess := livemock.NewSession()
	primary := &livemock.Provider{Session: primarySess}
	secondary := &livemock.Provider{Session: livemock.NewSession()}

	fb := NewLiveFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai-realtime", secondary)

	sess, err := fb.Connect(context.Background(), live.SessionConfig{Voice: "Kore"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != primarySess {
		t.Fatal("session is not the primary's session")
	}
	if len(primary.ConnectCalls()) != 1 {
		t.Fatalf("primary dialed %d times, want 1", len(primary.ConnectCalls()))
	}
	if len(secondary.ConnectCalls()) != 0 {
		t.Fatalf("secondary dialed %d times, want 0", len(secondary.ConnectCalls()))
	}
	if primary.ConnectCalls()[0].Voice != "Kore" {
		t.Fatalf("voice = %q, want Kore", primary.ConnectCalls()[0].Voice)
	}
}

func TestLiveFallback_Connect_Failover(t *testing.T) {
	secondarySess := livemock.NewSession()
	primary := &livemock.Provider{ConnectErr: errors.New("quota exceeded")}
	secondary := &livemock.Provider{Session: secondarySess}

	fb := NewLiveFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai-realtime", secondary)

	sess, err := fb.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != secondarySess {
		t.Fatal("session is not the fallback's session")
	}
}

func TestLiveFallback_Connect_AllFail(t *testing.T) {
	primary := &livemock.Provider{ConnectErr: errors.New("primary down")}
	secondary := &livemock.Provider{ConnectErr: errors.New("secondary down")}

	fb := NewLiveFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("openai-realtime", secondary)

	_, err := fb.Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLiveFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &livemock.Provider{ConnectErr: errors.New("primary down")}
	secondary := &livemock.Provider{Session: livemock.NewSession()}

	fb := NewLiveFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("openai-realtime", secondary)

	// First call trips the primary's breaker; the second must not dial it.
	for range 2 {
		if _, err := fb.Connect(context.Background(), live.SessionConfig{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(primary.ConnectCalls()); got != 1 {
		t.Fatalf("primary dialed %d times, want 1", got)
	}
	if got := len(secondary.ConnectCalls()); got != 2 {
		t.Fatalf("secondary dialed %d times, want 2", got)
	}
}

func TestLiveFallback_Capabilities(t *testing.T) {
	primary := &livemock.Provider{
		Caps: live.Capabilities{Voices: []string{"Kore", "Zephyr"}},
	}

	fb := NewLiveFallback(primary, "gemini-live", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if got := fb.Capabilities().Voices; len(got) != 2 {
		t.Fatalf("voices = %v, want two entries", got)
	}
}
