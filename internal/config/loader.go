package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per channel.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live", "openai-realtime"},
	"llm":  {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("live", cfg.Providers.LiveFallback.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	// A fallback with no primary is almost certainly a mistake.
	if cfg.Providers.Live.Name == "" && cfg.Providers.LiveFallback.Name != "" {
		errs = append(errs, errors.New("providers.live_fallback is set but providers.live is not"))
	}
	if cfg.Providers.LLM.Name == "" && cfg.Providers.LLMFallback.Name != "" {
		errs = append(errs, errors.New("providers.llm_fallback is set but providers.llm is not"))
	}

	// Channel availability warnings
	if cfg.Providers.Live.Name == "" {
		slog.Warn("providers.live is not configured; voice sessions will be unavailable")
	} else if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live has no api_key; the provider will reject the session handshake")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the text chat channel will be unavailable")
	}

	// Lead destinations
	if cfg.Lead.WebhookURL != "" {
		u, err := url.Parse(cfg.Lead.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("lead.webhook_url %q is not a valid http(s) URL", cfg.Lead.WebhookURL))
		}
	}
	if cfg.Lead.WebhookURL == "" && cfg.Lead.FilePath == "" && cfg.Lead.PostgresDSN == "" {
		slog.Warn("no lead destination configured; captured leads will only reach the dashboard")
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must not be negative", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must not be negative", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.CaptureRate != 0 && !slices.Contains([]int{8000, 16000, 24000, 44100, 48000}, cfg.Audio.CaptureRate) {
		slog.Warn("unusual audio.capture_rate — providers expect 16000",
			"capture_rate", cfg.Audio.CaptureRate,
		)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
