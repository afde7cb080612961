// Command hearthline is the main entry point for the Hearthline voice intake server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hearthline/hearthline/internal/app"
	"github.com/hearthline/hearthline/internal/config"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/resilience"
	"github.com/hearthline/hearthline/pkg/live"
	geminilive "github.com/hearthline/hearthline/pkg/live/gemini"
	openailive "github.com/hearthline/hearthline/pkg/live/openai"
	"github.com/hearthline/hearthline/pkg/provider/llm"
	"github.com/hearthline/hearthline/pkg/provider/llm/anyllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearthline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearthline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("hearthline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "hearthline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies without a restart; other changes are
	// announced so an operator knows a restart is pending.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.InstructionsChanged || d.PersonasChanged || d.LeadChanged {
			slog.Warn("config changed on disk; restart to apply",
				"instructions", d.InstructionsChanged,
				"personas", d.PersonasChanged,
				"lead", d.LeadChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Hearthline. Used for startup logging.
var builtinProviders = map[string][]string{
	"live": {"gemini-live", "openai-realtime"},
	"llm":  {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live (speech-to-speech) ───────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []openailive.Option
		if entry.Model != "" {
			opts = append(opts, openailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openailive.WithBaseURL(entry.BaseURL))
		}
		return openailive.New(entry.APIKey, opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq all share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Configured fallbacks are wrapped into circuit-breaking failover
// groups here, so the rest of the application sees a single provider per slot.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// Every failover breaker shares one hook recording its transitions.
	fallbackCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	name := cfg.Providers.Live.Name
	if name == "" {
		return nil, errors.New("providers.live must be configured")
	}
	liveProvider, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "live", "name", name)

	if fb := cfg.Providers.LiveFallback; fb.Name != "" {
		fbProvider, err := reg.CreateLive(fb)
		if err != nil {
			return nil, fmt.Errorf("create live fallback %q: %w", fb.Name, err)
		}
		group := resilience.NewLiveFallback(liveProvider, name, fallbackCfg)
		group.AddFallback(fb.Name, fbProvider)
		liveProvider = group
		slog.Info("live failover enabled", "primary", name, "fallback", fb.Name)
	}
	ps.Live = liveProvider

	if name := cfg.Providers.LLM.Name; name != "" {
		llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider — text chat disabled", "name", name)
			return ps, nil
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)

		if fb := cfg.Providers.LLMFallback; fb.Name != "" {
			fbProvider, err := reg.CreateLLM(fb)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			group := resilience.NewLLMFallback(llmProvider, name, fallbackCfg)
			group.AddFallback(fb.Name, fbProvider)
			llmProvider = group
			slog.Info("llm failover enabled", "primary", name, "fallback", fb.Name)
		}
		ps.LLM = llmProvider
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Hearthline — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Fallback", cfg.Providers.LiveFallback.Name, cfg.Providers.LiveFallback.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("LLM fallback", cfg.Providers.LLMFallback.Name, cfg.Providers.LLMFallback.Model)

	var destinations int
	for _, set := range []bool{
		cfg.Lead.WebhookURL != "",
		cfg.Lead.FilePath != "",
		cfg.Lead.PostgresDSN != "",
	} {
		if set {
			destinations++
		}
	}
	fmt.Printf("║  Lead sinks      : %-19d ║\n", destinations)
	fmt.Printf("║  Front desk      : %-19s ║\n", cfg.Intake.DefaultPersona().Label)
	fmt.Printf("║  Emergency       : %-19s ║\n", cfg.Intake.EmergencyPersona().Label)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
