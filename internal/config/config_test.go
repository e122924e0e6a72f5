package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsEnvOnly(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "file" || cfg.Store.Dir != "~/.stealth-dca" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Pipeline.RetryAttempts != 3 || cfg.Pipeline.RetryInterval != 500*time.Millisecond {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.StrictPrivacy {
		t.Fatalf("strict privacy should default off")
	}
	if cfg.Schedule.AnchorHour != 9 || cfg.Schedule.Weekday != 1 || cfg.Schedule.MonthDay != 1 {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Providers.Screen.CacheTTL != 10*time.Minute {
		t.Fatalf("screen cache ttl = %s", cfg.Providers.Screen.CacheTTL)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
rpc:
  endpoint: http://localhost:8899
pipeline:
  strict_privacy: true
  run_timeout: 2m
tokens:
  - symbol: WIF
    mint: EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm
    decimals: 6
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SDCA_SCHEDULE_ANCHOR_HOUR", "14")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.Endpoint != "http://localhost:8899" {
		t.Fatalf("endpoint = %s", cfg.RPC.Endpoint)
	}
	if !cfg.Pipeline.StrictPrivacy || cfg.Pipeline.RunTimeout != 2*time.Minute {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Schedule.AnchorHour != 14 {
		t.Fatalf("anchor hour = %d", cfg.Schedule.AnchorHour)
	}
	if len(cfg.Tokens) != 1 || cfg.Tokens[0].Symbol != "WIF" || cfg.Tokens[0].Decimals != 6 {
		t.Fatalf("tokens = %+v", cfg.Tokens)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/.stealth-dca"); got != filepath.Join(home, ".stealth-dca") {
		t.Fatalf("expand = %s", got)
	}
	if got := ExpandHome("/var/lib/dca"); got != "/var/lib/dca" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
