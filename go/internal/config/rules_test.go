package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRulesAreValid(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("DefaultRules().Validate() = %v", err)
	}
}

func TestLoadRulesEmptyPath(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules(\"\"): %v", err)
	}
	if rules.MaxRounds != DefaultRules().MaxRounds {
		t.Fatalf("empty path did not return defaults: %+v", rules)
	}
}

func TestLoadRulesOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "max_rounds: 3\nround_seconds: 20\nemojis: [\"🦊\", \"🐧\", \"🐙\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.MaxRounds != 3 || rules.RoundSeconds != 20 {
		t.Errorf("overrides not applied: rounds=%d seconds=%d", rules.MaxRounds, rules.RoundSeconds)
	}
	if len(rules.Emojis) != 3 {
		t.Errorf("emoji pool = %d entries, want the 3 from the file", len(rules.Emojis))
	}

	// Keys the file does not mention keep their defaults.
	if rules.CountdownSeconds != DefaultRules().CountdownSeconds {
		t.Errorf("countdown = %d, want default %d", rules.CountdownSeconds, DefaultRules().CountdownSeconds)
	}
	if rules.MaxPlayers != DefaultRules().MaxPlayers {
		t.Errorf("max players = %d, want default %d", rules.MaxPlayers, DefaultRules().MaxPlayers)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadRules on a missing file succeeded")
	}
}

func TestLoadRulesRejectsInvalidTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("max_rounds: 0\n"), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("LoadRules accepted max_rounds: 0")
	}
}

func TestRulesValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rules)
	}{
		{"no rounds", func(r *Rules) { r.MaxRounds = 0 }},
		{"no players", func(r *Rules) { r.MaxPlayers = 0 }},
		{"zero-length round", func(r *Rules) { r.RoundSeconds = 0 }},
		{"preload fraction above 1", func(r *Rules) { r.PreloadFraction = 1.5 }},
		{"negative preload fraction", func(r *Rules) { r.PreloadFraction = -0.1 }},
		{"single-item board", func(r *Rules) { r.BoardItems = 1 }},
		{"one-emoji pool", func(r *Rules) { r.Emojis = []string{"🦊"} }},
		{"disconnect inside heartbeat", func(r *Rules) { r.DisconnectSeconds = r.HeartbeatSeconds }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			tt.mutate(&rules)
			if err := rules.Validate(); err == nil {
				t.Fatal("Validate accepted a broken tuning")
			}
		})
	}
}

func TestRulesDurations(t *testing.T) {
	rules := DefaultRules()

	if got := rules.PreloadAfter(); got != 3*time.Second {
		t.Errorf("PreloadAfter() = %v, want 3s at 0.6 of a 5s countdown", got)
	}
	if got := rules.RoundDuration(); got != 30*time.Second {
		t.Errorf("RoundDuration() = %v, want 30s", got)
	}
	if got := rules.SessionTTL(); got != 2*time.Hour {
		t.Errorf("SessionTTL() = %v, want 2h", got)
	}
	if got := rules.ActivePoll(); got != 250*time.Millisecond {
		t.Errorf("ActivePoll() = %v, want 250ms", got)
	}
}
