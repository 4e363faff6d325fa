// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/skillcast/internal/model"
)

const (
	DefaultTolerance   = 30
	DefaultBearingDeg  = 30.0
	DefaultRadiusRatio = 0.85
	DefaultSettleMs    = 300
	DefaultTriggerKey  = "p"
	DefaultToggleKey   = "f8"
	DefaultTickMs      = 50
	DefaultIdleMs      = 500
	DefaultMinDelayMs  = 50
	DefaultProfileName = "Guardian - Dragonhunter"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Detect    DetectConfig    `toml:"detect"`
	Calibrate CalibrateConfig `toml:"calibrate"`
	Loop      LoopConfig      `toml:"loop"`
	Hotkeys   HotkeysConfig   `toml:"hotkeys"`
	Profile   ProfileConfig   `toml:"profile"`
}

// DetectConfig maps readiness detection settings.
type DetectConfig struct {
	Tolerance *int `toml:"tolerance"`
}

// CalibrateConfig maps calibration wizard settings.
type CalibrateConfig struct {
	Bearing     *float64 `toml:"bearing"`
	RadiusRatio *float64 `toml:"radius-ratio"`
	SettleMs    *int     `toml:"settle-ms"`
	Trigger     *string  `toml:"trigger"`
}

// LoopConfig maps automation loop timings.
type LoopConfig struct {
	TickMs     *int `toml:"tick-ms"`
	IdleMs     *int `toml:"idle-ms"`
	MinDelayMs *int `toml:"min-delay-ms"`
}

// HotkeysConfig maps global hotkeys.
type HotkeysConfig struct {
	Toggle *string `toml:"toggle"`
}

// ProfileConfig maps profile document settings.
type ProfileConfig struct {
	Default  *string `toml:"default"`
	Document *string `toml:"document"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() model.Settings {
	return model.Settings{
		Tolerance:      DefaultTolerance,
		BearingDeg:     DefaultBearingDeg,
		RadiusRatio:    DefaultRadiusRatio,
		Settle:         DefaultSettleMs * time.Millisecond,
		TriggerKey:     DefaultTriggerKey,
		ToggleKey:      DefaultToggleKey,
		Tick:           DefaultTickMs * time.Millisecond,
		Idle:           DefaultIdleMs * time.Millisecond,
		MinDelay:       DefaultMinDelayMs * time.Millisecond,
		DefaultProfile: DefaultProfileName,
		DocumentPath:   DefaultDocumentPath(),
	}
}

// Apply overlays the values set in the file onto settings.
func (c FileConfig) Apply(s model.Settings) model.Settings {
	if c.Detect.Tolerance != nil {
		s.Tolerance = *c.Detect.Tolerance
	}
	if c.Calibrate.Bearing != nil {
		s.BearingDeg = *c.Calibrate.Bearing
	}
	if c.Calibrate.RadiusRatio != nil {
		s.RadiusRatio = *c.Calibrate.RadiusRatio
	}
	if c.Calibrate.SettleMs != nil {
		s.Settle = time.Duration(*c.Calibrate.SettleMs) * time.Millisecond
	}
	if c.Calibrate.Trigger != nil {
		s.TriggerKey = *c.Calibrate.Trigger
	}
	if c.Loop.TickMs != nil {
		s.Tick = time.Duration(*c.Loop.TickMs) * time.Millisecond
	}
	if c.Loop.IdleMs != nil {
		s.Idle = time.Duration(*c.Loop.IdleMs) * time.Millisecond
	}
	if c.Loop.MinDelayMs != nil {
		s.MinDelay = time.Duration(*c.Loop.MinDelayMs) * time.Millisecond
	}
	if c.Hotkeys.Toggle != nil {
		s.ToggleKey = *c.Hotkeys.Toggle
	}
	if c.Profile.Default != nil {
		s.DefaultProfile = *c.Profile.Default
	}
	if c.Profile.Document != nil {
		s.DocumentPath = *c.Profile.Document
	}
	return s
}

// Validate checks resolved settings.
func Validate(s model.Settings) error {
	if s.Tolerance < 1 || s.Tolerance > 255 {
		return fmt.Errorf("tolerance must be between 1 and 255")
	}
	if s.RadiusRatio <= 0 || s.RadiusRatio > 1 {
		return fmt.Errorf("radius-ratio must be in (0, 1]")
	}
	if s.Settle < 0 {
		return fmt.Errorf("settle-ms must be >= 0")
	}
	if s.Tick <= 0 {
		return fmt.Errorf("tick-ms must be > 0")
	}
	if s.Idle <= 0 {
		return fmt.Errorf("idle-ms must be > 0")
	}
	if s.MinDelay < model.MinCastDelay {
		return fmt.Errorf("min-delay-ms must be >= %d", model.MinCastDelay.Milliseconds())
	}
	if strings.TrimSpace(s.TriggerKey) == "" {
		return fmt.Errorf("trigger key must not be empty")
	}
	if strings.TrimSpace(s.ToggleKey) == "" {
		return fmt.Errorf("toggle key must not be empty")
	}
	if strings.TrimSpace(s.DefaultProfile) == "" {
		return fmt.Errorf("default profile must not be empty")
	}
	if s.DocumentPath == "" {
		return fmt.Errorf("document path must not be empty")
	}
	return nil
}
