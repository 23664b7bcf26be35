package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PollInterval != 30 {
		t.Errorf("PollInterval = %v, want 30", cfg.PollInterval)
	}
	if *cfg.Warn.BatteryPct != 50 || *cfg.Warn.OnBatteryMin != 5 || *cfg.Warn.RuntimeMin != 30 {
		t.Errorf("warn defaults = %s", cfg.Warn)
	}
	if *cfg.Crit.BatteryPct != 20 || *cfg.Crit.OnBatteryMin != 10 || *cfg.Crit.RuntimeMin != 10 {
		t.Errorf("crit defaults = %s", cfg.Crit)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeTempConfig(t, "ups_monitor.json", `{
		"poll_interval": 10,
		"warn": {"battery_pct": 60, "on_battery_min": 2, "runtime_min": 45},
		"crit": {"battery_pct": 25},
		"notify": {
			"discord_users": ["aaron", "zack"],
			"discord_channel": "alerts",
			"email": ["ops@example.com"]
		}
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if cfg.PollInterval != 10 {
		t.Errorf("PollInterval = %v, want 10", cfg.PollInterval)
	}
	if *cfg.Warn.BatteryPct != 60 {
		t.Errorf("Warn.BatteryPct = %v", cfg.Warn)
	}
	// A present threshold block replaces the whole default triple.
	if *cfg.Crit.BatteryPct != 25 || cfg.Crit.OnBatteryMin != nil || cfg.Crit.RuntimeMin != nil {
		t.Errorf("crit block not replaced wholesale: %s", cfg.Crit)
	}
	if len(cfg.Notify.DiscordUsers) != 2 || cfg.Notify.DiscordChannel != "alerts" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if len(cfg.Notify.Email) != 1 || cfg.Notify.Email[0] != "ops@example.com" {
		t.Errorf("Notify.Email = %v", cfg.Notify.Email)
	}
}

// The oldest config shape: thresholds plus a flat top-level email list,
// which folds into the routing block.
func TestLoadConfigLegacyEmailList(t *testing.T) {
	path := writeTempConfig(t, "legacy.json", `{
		"poll_interval": 30,
		"email": ["aaron@example.com", "zack@example.com"]
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if len(cfg.Notify.Email) != 2 || cfg.Notify.Email[0] != "aaron@example.com" {
		t.Errorf("Notify.Email = %v", cfg.Notify.Email)
	}
	// Absent threshold blocks keep the defaults.
	if *cfg.Warn.BatteryPct != 50 || *cfg.Crit.BatteryPct != 20 {
		t.Errorf("defaults lost: warn=%s crit=%s", cfg.Warn, cfg.Crit)
	}
}

// Even older: a single bare string instead of a list.
func TestLoadConfigLegacyEmailString(t *testing.T) {
	path := writeTempConfig(t, "older.json", `{"email": "aaron@example.com"}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if len(cfg.Notify.Email) != 1 || cfg.Notify.Email[0] != "aaron@example.com" {
		t.Errorf("Notify.Email = %v", cfg.Notify.Email)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeTempConfig(t, "ups_monitor.yaml", `
poll_interval: 15
warn:
  battery_pct: 55
crit:
  battery_pct: 15
  runtime_min: 5
notify:
  discord_users: aaron
  email:
    - ops@example.com
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if cfg.PollInterval != 15 {
		t.Errorf("PollInterval = %v, want 15", cfg.PollInterval)
	}
	if *cfg.Warn.BatteryPct != 55 || cfg.Warn.OnBatteryMin != nil {
		t.Errorf("Warn = %s", cfg.Warn)
	}
	if *cfg.Crit.RuntimeMin != 5 {
		t.Errorf("Crit = %s", cfg.Crit)
	}
	// Scalar where a list is expected still parses.
	if len(cfg.Notify.DiscordUsers) != 1 || cfg.Notify.DiscordUsers[0] != "aaron" {
		t.Errorf("DiscordUsers = %v", cfg.Notify.DiscordUsers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("LoadConfig() on a missing file should fail")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeTempConfig(t, ".env", `
# comment line
DISCORD_BOT_TOKEN="tok-123"
SMTP_PASS='secret'
EMPTYLESS
ALREADY_SET=from-file
`)
	t.Setenv("DISCORD_BOT_TOKEN", "")
	os.Unsetenv("DISCORD_BOT_TOKEN")
	t.Setenv("SMTP_PASS", "")
	os.Unsetenv("SMTP_PASS")
	t.Setenv("ALREADY_SET", "from-env")

	loadDotEnv(path)

	if got := os.Getenv("DISCORD_BOT_TOKEN"); got != "tok-123" {
		t.Errorf("DISCORD_BOT_TOKEN = %q (quotes should be stripped)", got)
	}
	if got := os.Getenv("SMTP_PASS"); got != "secret" {
		t.Errorf("SMTP_PASS = %q", got)
	}
	if got := os.Getenv("ALREADY_SET"); got != "from-env" {
		t.Errorf("ALREADY_SET = %q, .env must not override the environment", got)
	}
}

func TestLoadDotEnvMissingFileIsNoop(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "absent.env"))
}

func TestThresholdsString(t *testing.T) {
	if got := (Thresholds{}).String(); got != "disabled" {
		t.Errorf("empty Thresholds.String() = %q", got)
	}
	full := Thresholds{BatteryPct: intPtr(50), OnBatteryMin: floatPtr(5), RuntimeMin: floatPtr(30)}
	if got := full.String(); got != "pct<=50 / time>=5min / runtime<=30min" {
		t.Errorf("Thresholds.String() = %q", got)
	}
}
