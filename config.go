package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NotifyConfig is the structured routing block: which Discord users get
// a DM, an optional channel to post in, and direct email addresses.
type NotifyConfig struct {
	DiscordUsers   stringList `json:"discord_users" yaml:"discord_users"`
	DiscordChannel string     `json:"discord_channel" yaml:"discord_channel"`
	Email          stringList `json:"email" yaml:"email"`
}

// MonitorConfig is the canonical configuration. The on-disk shape went
// through three variants (flat CLI flags, flat top-level "email" list,
// structured "notify" routing); Load normalizes all of them into this
// one struct before the monitor is built.
type MonitorConfig struct {
	PollInterval float64      `json:"poll_interval" yaml:"poll_interval"`
	Warn         Thresholds   `json:"warn" yaml:"warn"`
	Crit         Thresholds   `json:"crit" yaml:"crit"`
	Notify       NotifyConfig `json:"notify" yaml:"notify"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// DefaultConfig mirrors the thresholds the original deployment shipped
// with: warn at 50% / 5 min on battery / 30 min runtime, crit at
// 20% / 10 min / 10 min, polling every 30s.
func DefaultConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval: 30,
		Warn:         Thresholds{BatteryPct: intPtr(50), OnBatteryMin: floatPtr(5), RuntimeMin: floatPtr(30)},
		Crit:         Thresholds{BatteryPct: intPtr(20), OnBatteryMin: floatPtr(10), RuntimeMin: floatPtr(10)},
	}
}

// fileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from "present": a threshold block that is present replaces the default
// triple wholesale, so a block naming only battery_pct leaves the other
// two bounds unset.
type fileConfig struct {
	PollInterval *float64      `json:"poll_interval" yaml:"poll_interval"`
	Email        stringList    `json:"email" yaml:"email"`
	Warn         *Thresholds   `json:"warn" yaml:"warn"`
	Crit         *Thresholds   `json:"crit" yaml:"crit"`
	Notify       *NotifyConfig `json:"notify" yaml:"notify"`
}

// LoadConfig reads a config file, JSON or YAML by extension, on top of
// the defaults, then folds the legacy flat email list into the
// structured routing block.
func LoadConfig(path string) (MonitorConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.PollInterval != nil && *fc.PollInterval > 0 {
		cfg.PollInterval = *fc.PollInterval
	}
	if fc.Warn != nil {
		cfg.Warn = *fc.Warn
	}
	if fc.Crit != nil {
		cfg.Crit = *fc.Crit
	}
	if fc.Notify != nil {
		cfg.Notify = *fc.Notify
	}
	// Legacy variant: a top-level "email" list with no routing block.
	if len(fc.Email) > 0 {
		cfg.Notify.Email = append(cfg.Notify.Email, fc.Email...)
	}
	return cfg, nil
}

// stringList accepts both a bare string and a list of strings, since the
// oldest config variant wrote `"email": "a@b"` and later ones wrote a
// list.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = stringList(many)
	return nil
}

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var one string
		if err := node.Decode(&one); err != nil {
			return err
		}
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*s = stringList(many)
	return nil
}

// loadDotEnv reads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. Lines
// starting with # are skipped; single or double quotes around values are
// stripped.
func loadDotEnv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
