package config

import "testing"

// ─── TestDiff ────────────────────────────────────────────────────────────────

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Server: ServerConfig{LogLevel: LogInfo},
			Intake: IntakeConfig{
				Instructions: "You are Angela.",
				Personas: PersonasConfig{
					Default: PersonaConfig{Voice: "Kore", Label: "Angela"},
				},
			},
			Lead: LeadConfig{WebhookURL: "https://hooks.example.com/leads"},
		}
	}

	t.Run("identical configs produce no diff", func(t *testing.T) {
		t.Parallel()
		if d := Diff(base(), base()); d.Any() {
			t.Errorf("diff = %+v; want none", d)
		}
	})

	t.Run("log level", func(t *testing.T) {
		t.Parallel()
		updated := base()
		updated.Server.LogLevel = LogDebug
		d := Diff(base(), updated)
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("instructions", func(t *testing.T) {
		t.Parallel()
		updated := base()
		updated.Intake.Instructions = "You are Priya."
		if d := Diff(base(), updated); !d.InstructionsChanged {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("persona voice", func(t *testing.T) {
		t.Parallel()
		updated := base()
		updated.Intake.Personas.Default.Voice = "Puck"
		if d := Diff(base(), updated); !d.PersonasChanged {
			t.Errorf("diff = %+v", d)
		}
	})

	t.Run("lead destination", func(t *testing.T) {
		t.Parallel()
		updated := base()
		updated.Lead.FilePath = "/tmp/leads.jsonl"
		if d := Diff(base(), updated); !d.LeadChanged {
			t.Errorf("diff = %+v", d)
		}
	})
}
