package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
gexflow:
  name: gexflow
  version: 1.0.0

logging:
  level: info
  format: json

session:
  timezone: America/New_York
  start_minute: 570
  end_minute: 960
  gate_enabled: true
  closed_sleep: 1m

pacing:
  global_gap: 500ms
  queue_gaps:
    chain: 1s
    breadth: 2s

upstream:
  base_url: https://api.example.com
  timeout: 10s
  retry:
    base_delay: 250ms
    max_delay: 5s

feeds:
  chain:
    enabled: true
    symbol: SPX
    base_interval: 1m
    min_interval: 15s
    backoff_step: 30s
    max_backoff_steps: 6
    jitter_ceiling: 2s
    max_attempts: 4
  breadth:
    enabled: true
    base_interval: 1m
    min_interval: 30s
    backoff_step: 1m
    max_backoff_steps: 4
    jitter_ceiling: 2s
    max_attempts: 3

storage:
  postgres:
    enabled: false
  s3:
    enabled: false

web:
  enabled: true
  address: ":8080"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Session.StartMinute != 570 || cfg.Session.EndMinute != 960 {
		t.Errorf("session window = %d..%d", cfg.Session.StartMinute, cfg.Session.EndMinute)
	}
	if cfg.Pacing.GlobalGap != 500*time.Millisecond {
		t.Errorf("global gap = %v", cfg.Pacing.GlobalGap)
	}
	if got := cfg.Pacing.QueueGaps["breadth"]; got != 2*time.Second {
		t.Errorf("breadth queue gap = %v", got)
	}
	if cfg.Feeds.Chain.Symbol != "SPX" || cfg.Feeds.Chain.MaxAttempts != 4 {
		t.Errorf("chain feed = %+v", cfg.Feeds.Chain)
	}
	if cfg.Feeds.Breadth.MaxAttempts != 3 {
		t.Errorf("breadth max attempts = %d", cfg.Feeds.Breadth.MaxAttempts)
	}
	if !cfg.Web.Enabled || cfg.Web.Address != ":8080" {
		t.Errorf("web = %+v", cfg.Web)
	}
}

func TestLoadConfigSessionDefaults(t *testing.T) {
	minimal := strings.Replace(validYAML, `session:
  timezone: America/New_York
  start_minute: 570
  end_minute: 960
  gate_enabled: true
  closed_sleep: 1m

`, "", 1)

	cfg, err := LoadConfig(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Session.Timezone != "America/New_York" {
		t.Errorf("default timezone = %q", cfg.Session.Timezone)
	}
	if cfg.Session.StartMinute != 570 || cfg.Session.EndMinute != 960 {
		t.Errorf("default window = %d..%d", cfg.Session.StartMinute, cfg.Session.EndMinute)
	}
	if !cfg.Session.GateEnabled || cfg.Session.ClosedSleep != time.Minute {
		t.Errorf("default gating = %+v", cfg.Session)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_TOKEN", "  sekret  ")
	t.Setenv("POSTGRES_DSN", "postgres://env/gexflow")

	cfg, err := LoadConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Upstream.Token != "sekret" {
		t.Errorf("token = %q, want trimmed env value", cfg.Upstream.Token)
	}
	if cfg.Storage.Postgres.DSN != "postgres://env/gexflow" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
}

func TestLoadConfigValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{
			name:    "missing name",
			mutate:  func(s string) string { return strings.Replace(s, "name: gexflow", "name: \"\"", 1) },
			wantMsg: "gexflow.name",
		},
		{
			name:    "inverted session window",
			mutate:  func(s string) string { return strings.Replace(s, "end_minute: 960", "end_minute: 500", 1) },
			wantMsg: "session.end_minute",
		},
		{
			name:    "zero global gap",
			mutate:  func(s string) string { return strings.Replace(s, "global_gap: 500ms", "global_gap: 0s", 1) },
			wantMsg: "pacing.global_gap",
		},
		{
			name: "missing upstream url",
			mutate: func(s string) string {
				return strings.Replace(s, "base_url: https://api.example.com", "base_url: \"\"", 1)
			},
			wantMsg: "upstream.base_url",
		},
		{
			name:    "chain feed without symbol",
			mutate:  func(s string) string { return strings.Replace(s, "symbol: SPX", "symbol: \"\"", 1) },
			wantMsg: "feeds.chain.symbol",
		},
		{
			name:    "min interval above base",
			mutate:  func(s string) string { return strings.Replace(s, "min_interval: 15s", "min_interval: 2m", 1) },
			wantMsg: "feeds.chain.min_interval",
		},
		{
			name:    "zero max attempts",
			mutate:  func(s string) string { return strings.Replace(s, "max_attempts: 3", "max_attempts: 0", 1) },
			wantMsg: "feeds.breadth.max_attempts",
		},
		{
			name: "postgres enabled without dsn",
			mutate: func(s string) string {
				return strings.Replace(s, "postgres:\n    enabled: false", "postgres:\n    enabled: true", 1)
			},
			wantMsg: "storage.postgres.dsn",
		},
		{
			name:    "web enabled without address",
			mutate:  func(s string) string { return strings.Replace(s, "address: \":8080\"", "address: \"\"", 1) },
			wantMsg: "web.address",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tc.mutate(validYAML)))
			if err == nil {
				t.Fatal("LoadConfig accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("LoadConfig succeeded on a missing file")
	}
}
