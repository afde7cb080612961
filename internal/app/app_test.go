package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hearthline/hearthline/internal/config"
	"github.com/hearthline/hearthline/internal/lead"
	leadmock "github.com/hearthline/hearthline/internal/lead/mock"
	livemock "github.com/hearthline/hearthline/pkg/live/mock"
)

func leadRecord() lead.Record {
	return lead.Record{
		Name:        "Alex Rivera",
		Phone:       "555-0100",
		HeatingType: "furnace",
		Temp:        lead.TempRepair,
		Agent:       "Angela",
		ReceivedAt:  time.Now().UTC(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   "info",
		},
		Intake: config.IntakeConfig{
			Instructions: "You are Angela at Hearthline.",
		},
	}
}

func testProviders() *Providers {
	return &Providers{Live: &livemock.Provider{Session: livemock.NewSession()}}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *Providers, opts ...Option) *App {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.DiscardHandler)))
	a, err := New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// ─── TestNew_RequiresLiveProvider ────────────────────────────────────────────

func TestNew_RequiresLiveProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), testConfig(), &Providers{}); err == nil {
		t.Fatal("New succeeded without a live provider")
	}
	if _, err := New(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("New succeeded with nil providers")
	}
}

// ─── TestHealthAndMetricsEndpoints ───────────────────────────────────────────

func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), WithSink(&leadmock.Sink{}))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d; want 200", path, resp.StatusCode)
		}
	}
}

// ─── TestReadyzReportsMissingSink ────────────────────────────────────────────

func TestReadyzReportsMissingSink(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d with no lead destination; want 503", resp.StatusCode)
	}
}

// ─── TestChatDisabledWithoutLLM ──────────────────────────────────────────────

func TestChatDisabledWithoutLLM(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), WithSink(&leadmock.Sink{}))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/chat", "application/json",
		strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /chat: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("chat = %d without an llm provider; want 503", resp.StatusCode)
	}
}

// ─── TestFileSinkBuiltFromConfig ─────────────────────────────────────────────

func TestFileSinkBuiltFromConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "leads.jsonl")
	cfg := testConfig()
	cfg.Lead.FilePath = path

	a := newTestApp(t, cfg, testProviders())
	if a.Sink() == nil {
		t.Fatal("no sink built from file config")
	}

	rec := leadRecord()
	if err := a.Sink().Submit(context.Background(), rec); err != nil {
		t.Fatalf("submit: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read leads file: %v", err)
	}
	if !strings.Contains(string(data), rec.Name) {
		t.Errorf("leads file does not contain %q:\n%s", rec.Name, data)
	}
}

// ─── TestRun_StopsOnContextCancel ────────────────────────────────────────────

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders(), WithSink(&leadmock.Sink{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel; want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
