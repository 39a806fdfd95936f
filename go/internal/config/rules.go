package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emojidash/emojidash/go/internal/scoring"
)

// Rules holds the game tuning knobs. LoadRules starts from DefaultRules
// and lets a YAML file override individual keys, so a rules file only
// needs to name what it changes.
type Rules struct {
	MaxRounds           int     `yaml:"max_rounds"`
	MaxPlayers          int     `yaml:"max_players"`
	CountdownSeconds    int     `yaml:"countdown_seconds"`
	RoundSeconds        int     `yaml:"round_seconds"`
	PreloadFraction     float64 `yaml:"preload_fraction"`
	RoundEndHoldSeconds int     `yaml:"round_end_hold_seconds"`
	FinalHoldSeconds    int     `yaml:"final_hold_seconds"`
	Winners             int     `yaml:"winners"`

	BoardItems int      `yaml:"board_items"`
	Emojis     []string `yaml:"emojis"`

	BasePoints        int     `yaml:"base_points"`
	TimeBonusMax      int     `yaml:"time_bonus_max"`
	TimeBonusExponent float64 `yaml:"time_bonus_exponent"`
	OrderBonusFirst   int     `yaml:"order_bonus_first"`
	OrderBonusStep    int     `yaml:"order_bonus_step"`

	HeartbeatSeconds  int `yaml:"heartbeat_seconds"`
	DisconnectSeconds int `yaml:"disconnect_seconds"`
	JoinGraceSeconds  int `yaml:"join_grace_seconds"`

	ActivePollMs     int `yaml:"active_poll_ms"`
	IdlePollMs       int `yaml:"idle_poll_ms"`
	ReconnectSeconds int `yaml:"reconnect_seconds"`
	SweepEveryPolls  int `yaml:"sweep_every_polls"`

	EventTTLSeconds   int `yaml:"event_ttl_seconds"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	LockTTLSeconds    int `yaml:"lock_ttl_seconds"`
}

// DefaultRules returns the standard game tuning.
func DefaultRules() Rules {
	return Rules{
		MaxRounds:           5,
		MaxPlayers:          12,
		CountdownSeconds:    5,
		RoundSeconds:        30,
		PreloadFraction:     0.6,
		RoundEndHoldSeconds: 9,
		FinalHoldSeconds:    4,
		Winners:             3,

		BoardItems: 72,
		Emojis:     defaultEmojis,

		BasePoints:        50,
		TimeBonusMax:      150,
		TimeBonusExponent: 2,
		OrderBonusFirst:   50,
		OrderBonusStep:    15,

		HeartbeatSeconds:  5,
		DisconnectSeconds: 15,
		JoinGraceSeconds:  20,

		ActivePollMs:     250,
		IdlePollMs:       1000,
		ReconnectSeconds: 55,
		SweepEveryPolls:  8,

		EventTTLSeconds:   45,
		SessionTTLMinutes: 120,
		LockTTLSeconds:    5,
	}
}

// LoadRules reads a YAML rules file over the defaults. An empty path
// returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate rejects tunings the game cannot run with.
func (r Rules) Validate() error {
	if r.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", r.MaxRounds)
	}
	if r.MaxPlayers < 1 {
		return fmt.Errorf("max_players must be at least 1, got %d", r.MaxPlayers)
	}
	if r.RoundSeconds < 1 {
		return fmt.Errorf("round_seconds must be at least 1, got %d", r.RoundSeconds)
	}
	if r.PreloadFraction < 0 || r.PreloadFraction > 1 {
		return fmt.Errorf("preload_fraction must be in [0,1], got %g", r.PreloadFraction)
	}
	if r.BoardItems < 2 {
		return fmt.Errorf("board_items must be at least 2, got %d", r.BoardItems)
	}
	if len(r.Emojis) < 2 {
		return fmt.Errorf("emoji pool needs at least 2 entries, got %d", len(r.Emojis))
	}
	if r.DisconnectSeconds <= r.HeartbeatSeconds {
		return fmt.Errorf("disconnect_seconds (%d) must exceed heartbeat_seconds (%d)",
			r.DisconnectSeconds, r.HeartbeatSeconds)
	}
	return nil
}

// ScoringParams maps the tuning knobs onto the scoring curve.
func (r Rules) ScoringParams() scoring.Params {
	return scoring.Params{
		BasePoints:        r.BasePoints,
		TimeBonusMax:      r.TimeBonusMax,
		TimeBonusExponent: r.TimeBonusExponent,
		OrderBonusFirst:   r.OrderBonusFirst,
		OrderBonusStep:    r.OrderBonusStep,
	}
}

// Duration views over the integer knobs.

func (r Rules) Countdown() time.Duration     { return time.Duration(r.CountdownSeconds) * time.Second }
func (r Rules) RoundDuration() time.Duration { return time.Duration(r.RoundSeconds) * time.Second }
func (r Rules) RoundEndHold() time.Duration {
	return time.Duration(r.RoundEndHoldSeconds) * time.Second
}
func (r Rules) FinalHold() time.Duration { return time.Duration(r.FinalHoldSeconds) * time.Second }

// PreloadAfter is how far into the countdown board preload may begin.
func (r Rules) PreloadAfter() time.Duration {
	return time.Duration(r.PreloadFraction * float64(r.Countdown()))
}

func (r Rules) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatSeconds) * time.Second
}
func (r Rules) DisconnectAfter() time.Duration {
	return time.Duration(r.DisconnectSeconds) * time.Second
}
func (r Rules) JoinGrace() time.Duration { return time.Duration(r.JoinGraceSeconds) * time.Second }

func (r Rules) ActivePoll() time.Duration { return time.Duration(r.ActivePollMs) * time.Millisecond }
func (r Rules) IdlePoll() time.Duration   { return time.Duration(r.IdlePollMs) * time.Millisecond }
func (r Rules) ReconnectAfter() time.Duration {
	return time.Duration(r.ReconnectSeconds) * time.Second
}

func (r Rules) EventTTL() time.Duration   { return time.Duration(r.EventTTLSeconds) * time.Second }
func (r Rules) SessionTTL() time.Duration { return time.Duration(r.SessionTTLMinutes) * time.Minute }
func (r Rules) LockTTL() time.Duration    { return time.Duration(r.LockTTLSeconds) * time.Second }

// defaultEmojis is the stock board pool. Flag and skin-tone sequences are
// left out so every token renders as a single glyph everywhere.
var defaultEmojis = []string{
	"😀", "😂", "😅", "😇", "😉", "😍", "😎", "😘", "😜", "🤣",
	"🤔", "🤠", "🤡", "🤢", "🤥", "🤧", "🤩", "🤪", "🤫", "🤭",
	"😱", "😴", "😵", "🙃", "🙄", "🤖", "👻", "👽", "💀", "🎃",
	"🐶", "🐱", "🐭", "🐹", "🐰", "🦊", "🐻", "🐼", "🐨", "🐯",
	"🦁", "🐮", "🐷", "🐸", "🐵", "🐔", "🐧", "🐦", "🦆", "🦉",
	"🐴", "🦄", "🐝", "🐛", "🦋", "🐌", "🐞", "🐢", "🐍", "🦎",
	"🐙", "🦑", "🦀", "🐡", "🐠", "🐟", "🐬", "🐳", "🦈", "🐊",
	"🍏", "🍎", "🍐", "🍊", "🍋", "🍌", "🍉", "🍇", "🍓", "🍈",
	"🍒", "🍑", "🍍", "🥝", "🍅", "🥑", "🌽", "🥕", "🥐", "🍞",
	"🧀", "🍗", "🍔", "🍟", "🍕", "🌮", "🍣", "🍩", "🍪", "🎂",
	"⚽", "🏀", "🏈", "⚾", "🎾", "🏐", "🎱", "🏓", "🥊", "⛳",
	"🚗", "🚕", "🚌", "🏎", "🚓", "🚑", "🚒", "🚜", "🚲", "🛴",
}
