// Package app wires all Hearthline subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSink, WithMetrics).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hearthline/hearthline/internal/chat"
	"github.com/hearthline/hearthline/internal/config"
	"github.com/hearthline/hearthline/internal/gateway"
	"github.com/hearthline/hearthline/internal/health"
	"github.com/hearthline/hearthline/internal/intake"
	"github.com/hearthline/hearthline/internal/lead"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/pkg/live"
	"github.com/hearthline/hearthline/pkg/provider/llm"
)

// shutdownGrace bounds the HTTP server drain when the run context ends.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Live is required;
// a nil LLM disables the text chat channel. Populated by main.go via the
// config registry.
type Providers struct {
	Live live.Provider
	LLM  llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	sink    lead.Sink
	pool    *pgxpool.Pool
	chat    *chat.Assistant
	gateway *gateway.Gateway
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a lead sink instead of building one from config.
func WithSink(s lead.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the application logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: lead sink construction
// (including the database migration when Postgres is configured), the chat
// assistant, the browser gateway, and the HTTP server with its health and
// metrics endpoints.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSink(ctx); err != nil {
		return nil, fmt.Errorf("app: init lead sink: %w", err)
	}
	a.initChat()
	a.initGateway()
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSink assembles the lead delivery fan-out from config. Every configured
// destination is attempted for every lead; a single failing destination never
// loses the record for the others.
func (a *App) initSink(ctx context.Context) error {
	if a.sink != nil {
		return nil // injected
	}

	var sinks lead.Multi
	if url := a.cfg.Lead.WebhookURL; url != "" {
		sinks = append(sinks, lead.NewWebhookSink(url, lead.WithMetrics(a.metrics)))
		a.log.Info("lead destination configured", "kind", "webhook")
	}
	if path := a.cfg.Lead.FilePath; path != "" {
		sinks = append(sinks, lead.NewFileSink(path))
		a.log.Info("lead destination configured", "kind", "file", "path", path)
	}
	if dsn := a.cfg.Lead.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		ps := lead.NewPostgresSink(pool)
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		sinks = append(sinks, ps)
		a.log.Info("lead destination configured", "kind", "postgres")
	}

	switch len(sinks) {
	case 0:
		a.log.Warn("no lead destination configured; captured leads will only appear in logs")
	case 1:
		a.sink = sinks[0]
	default:
		a.sink = sinks
	}
	return nil
}

// initChat builds the text-channel assistant when a completion provider is
// configured. The chat channel gets its own persona machine and dispatcher so
// a text emergency never re-voices a concurrent call.
func (a *App) initChat() {
	if a.providers.LLM == nil {
		a.log.Info("no llm provider configured; text chat disabled")
		return
	}

	machine := persona.NewMachine(a.cfg.Intake.DefaultPersona(), a.cfg.Intake.EmergencyPersona())
	dispatcher := intake.NewDispatcher(machine, a.sink,
		intake.WithLogger(a.log.With("channel", "chat")),
		intake.WithNormalizer(a.normalizer()),
		intake.WithMetrics(a.metrics),
	)
	a.chat = chat.NewAssistant(a.providers.LLM, dispatcher, a.cfg.Intake.Instructions,
		chat.WithLogger(a.log.With("channel", "chat")),
	)
}

// initGateway builds the browser-facing gateway.
func (a *App) initGateway() {
	a.gateway = gateway.New(gateway.Config{
		Live:             a.providers.Live,
		Chat:             a.chat,
		Sink:             a.sink,
		Instructions:     a.cfg.Intake.Instructions,
		DefaultPersona:   a.cfg.Intake.DefaultPersona(),
		EmergencyPersona: a.cfg.Intake.EmergencyPersona(),
		Normalizer:       a.normalizer(),
		CaptureRate:      a.cfg.Audio.CaptureRate,
		FrameSamples:     a.cfg.Audio.FrameSamples,
		Logger:           a.log,
		Metrics:          a.metrics,
	})
}

// initHTTP assembles the serving mux: gateway endpoints, health probes, and
// the Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	a.gateway.Routes(mux)

	checkers := []health.Checker{
		health.Configured("live_provider", a.providers.Live != nil, "providers.live not set"),
		health.Configured("lead_sink", a.sink != nil, "no lead destination configured"),
	}
	if a.pool != nil {
		checkers = append(checkers, health.Pinger("leads_db", a.pool))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// normalizer builds the field normalizer from the configured vocabulary.
func (a *App) normalizer() *intake.Normalizer {
	if len(a.cfg.Intake.HeatingTypes) > 0 {
		return intake.NewNormalizer(intake.WithHeatingTypes(a.cfg.Intake.HeatingTypes))
	}
	return intake.NewNormalizer()
}

// Handler returns the root HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Sink returns the assembled lead sink; nil when no destination is configured.
func (a *App) Sink() lead.Sink { return a.sink }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// Websocket sessions are torn down by their own handlers when the server
// closes the connections.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("listening",
			"addr", a.server.Addr,
			"tls", a.cfg.Server.TLS != nil)

		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			a.server.Close()
			return fmt.Errorf("app: drain: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
