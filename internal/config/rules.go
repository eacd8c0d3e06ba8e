package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules embed.FS

// Rules is a fully resolved rule preset for one session. Durations are
// converted from the YAML second/millisecond fields at load time.
type Rules struct {
	Rounds                int
	StonesPerRound        int
	FoulLimit             int
	SimultaneousPlacement bool

	PlacementTimeout time.Duration
	FlickTimeout     time.Duration
	ConfirmTimeout   time.Duration
	TurnOrderTimeout time.Duration
	DisconnectGrace  time.Duration
	AnimationGrace   time.Duration
	NegotiationTTL   time.Duration

	MainTime       time.Duration
	ByoyomiPeriods int
	ByoyomiTime    time.Duration

	BoardWidth  float64
	BoardHeight float64
	StoneRadius float64

	BaseItemCount int
}

type rulesYAML struct {
	Rounds                int     `yaml:"rounds"`
	StonesPerRound        int     `yaml:"stones_per_round"`
	FoulLimit             int     `yaml:"foul_limit"`
	SimultaneousPlacement bool    `yaml:"simultaneous_placement"`
	PlacementTimeoutSec   int     `yaml:"placement_timeout_sec"`
	FlickTimeoutSec       int     `yaml:"flick_timeout_sec"`
	ConfirmTimeoutSec     int     `yaml:"confirm_timeout_sec"`
	TurnOrderTimeoutSec   int     `yaml:"turn_order_timeout_sec"`
	DisconnectGraceSec    int     `yaml:"disconnect_grace_sec"`
	AnimationGraceMS      int     `yaml:"animation_grace_ms"`
	NegotiationTTLSec     int     `yaml:"negotiation_ttl_sec"`
	MainTimeSec           int     `yaml:"main_time_sec"`
	ByoyomiPeriods        int     `yaml:"byoyomi_periods"`
	ByoyomiSec            int     `yaml:"byoyomi_sec"`
	BoardWidth            float64 `yaml:"board_width"`
	BoardHeight           float64 `yaml:"board_height"`
	StoneRadius           float64 `yaml:"stone_radius"`
	BaseItemCount         int     `yaml:"base_item_count"`
}

// RuleCatalog holds every loaded preset keyed by name.
type RuleCatalog struct {
	presets map[string]Rules
}

// LoadRules reads the embedded presets and, when path is non-empty, an
// override file that replaces or extends presets by name.
func LoadRules(path string) (*RuleCatalog, error) {
	raw, err := fs.ReadFile(defaultRules, "rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded rules: %w", err)
	}
	cat := &RuleCatalog{presets: make(map[string]Rules)}
	if err := cat.apply(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules override: %w", err)
		}
		if err := cat.apply(b); err != nil {
			return nil, fmt.Errorf("parse rules override: %w", err)
		}
	}
	return cat, nil
}

func (c *RuleCatalog) apply(b []byte) error {
	var m map[string]rulesYAML
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	for name, ry := range m {
		r := Rules{
			Rounds:                ry.Rounds,
			StonesPerRound:        ry.StonesPerRound,
			FoulLimit:             ry.FoulLimit,
			SimultaneousPlacement: ry.SimultaneousPlacement,
			PlacementTimeout:      time.Duration(ry.PlacementTimeoutSec) * time.Second,
			FlickTimeout:          time.Duration(ry.FlickTimeoutSec) * time.Second,
			ConfirmTimeout:        time.Duration(ry.ConfirmTimeoutSec) * time.Second,
			TurnOrderTimeout:      time.Duration(ry.TurnOrderTimeoutSec) * time.Second,
			DisconnectGrace:       time.Duration(ry.DisconnectGraceSec) * time.Second,
			AnimationGrace:        time.Duration(ry.AnimationGraceMS) * time.Millisecond,
			NegotiationTTL:        time.Duration(ry.NegotiationTTLSec) * time.Second,
			MainTime:              time.Duration(ry.MainTimeSec) * time.Second,
			ByoyomiPeriods:        ry.ByoyomiPeriods,
			ByoyomiTime:           time.Duration(ry.ByoyomiSec) * time.Second,
			BoardWidth:            ry.BoardWidth,
			BoardHeight:           ry.BoardHeight,
			StoneRadius:           ry.StoneRadius,
			BaseItemCount:         ry.BaseItemCount,
		}
		if err := r.validate(name); err != nil {
			return err
		}
		c.presets[name] = r
	}
	return nil
}

func (r Rules) validate(name string) error {
	if r.Rounds <= 0 {
		return fmt.Errorf("preset %q: rounds must be positive", name)
	}
	if r.StonesPerRound <= 0 {
		return fmt.Errorf("preset %q: stones_per_round must be positive", name)
	}
	if r.FoulLimit <= 0 {
		return fmt.Errorf("preset %q: foul_limit must be positive", name)
	}
	if r.BoardWidth <= 0 || r.BoardHeight <= 0 || r.StoneRadius <= 0 {
		return fmt.Errorf("preset %q: board geometry must be positive", name)
	}
	return nil
}

// Preset returns the named rule set.
func (c *RuleCatalog) Preset(name string) (Rules, error) {
	r, ok := c.presets[strings.TrimSpace(name)]
	if !ok {
		return Rules{}, fmt.Errorf("unknown rule preset %q", name)
	}
	return r, nil
}

// Names lists the available preset names.
func (c *RuleCatalog) Names() []string {
	out := make([]string, 0, len(c.presets))
	for k := range c.presets {
		out = append(out, k)
	}
	return out
}
