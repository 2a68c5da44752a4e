package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"dispatch": {
			"enabled": true,
			"workers": 4,
			"queue_size": 128,
			"rate_per_sec": 5,
			"retry_max": 2,
			"retry_base": "250ms",
			"retry_max_delay": "5s",
			"dedup_window": "30s",
			"dedup_max_entries": 500,
			"persist_dedup": true
		},
		"routing": {"critical_impact_threshold": 0.4},
		"digest": {"window": "45m", "flush_schedule": "@every 1m"},
		"storage": {"driver": "sqlite", "path": "./af.db", "busy_timeout": "3s"},
		"channels": {
			"telegram": {"token": "t", "chat_id": 42},
			"webhooks": {
				"urgent-voice": {"url": "https://voice.example/hook"},
				"urgent-text": {"url": "https://sms.example/hook", "rate_per_sec": 1}
			},
			"inapp": {"buffer_size": 50}
		},
		"clients": [
			{"id": "acme", "quiet_enabled": true, "quiet_start_hour": 22, "quiet_end_hour": 7}
		]
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch == nil || cfg.Dispatch.Workers != 4 {
		t.Fatalf("dispatch not parsed: %+v", cfg.Dispatch)
	}
	if cfg.Routing.CriticalImpactThreshold != 0.4 {
		t.Fatalf("routing threshold = %v", cfg.Routing.CriticalImpactThreshold)
	}
	if len(cfg.Channels.Webhooks) != 2 {
		t.Fatalf("webhooks = %d, want 2", len(cfg.Channels.Webhooks))
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestParseYAMLCoercion(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
dispatch:
  enabled: true
  workers: 2
  queue_size: 64
  rate_per_sec: 3
  retry_max: 3
  retry_base: 500ms
  retry_max_delay: 10s
  dedup_window: 1m
  dedup_max_entries: 2000
channels:
  inapp:
    buffer_size: 10
clients:
  - id: acme
    quiet_enabled: true
    quiet_start_hour: 23
    quiet_end_hour: 6
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Dispatch.QueueSize != 64 {
		t.Fatalf("queue_size = %d", cfg.Dispatch.QueueSize)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].QuietStartHour != 23 {
		t.Fatalf("clients = %+v", cfg.Clients)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "bogus": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}{"again": true}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad retry base", func(c *Config) {
			c.Dispatch = &DispatchConfig{RetryBase: "soon"}
		}},
		{"threshold out of range", func(c *Config) {
			c.Routing = &RoutingConfig{CriticalImpactThreshold: 1.5}
		}},
		{"bad flush schedule", func(c *Config) {
			c.Digest = &DigestConfig{FlushSchedule: "every minute"}
		}},
		{"file driver without path", func(c *Config) {
			c.Storage = &StorageConfig{Driver: "file"}
		}},
		{"unknown storage driver", func(c *Config) {
			c.Storage = &StorageConfig{Driver: "redis", Path: "x"}
		}},
		{"unknown webhook channel", func(c *Config) {
			c.Channels.Webhooks = map[string]WebhookChannelSpec{"carrier-pigeon": {URL: "https://x"}}
		}},
		{"webhook without url", func(c *Config) {
			c.Channels.Webhooks = map[string]WebhookChannelSpec{"urgent-text": {}}
		}},
		{"telegram without token", func(c *Config) {
			c.Channels.Telegram = &TelegramChannelConfig{}
		}},
		{"duplicate client id", func(c *Config) {
			c.Clients = []ClientConfig{{ID: "a"}, {ID: "a"}}
		}},
		{"quiet hour out of range", func(c *Config) {
			c.Clients = []ClientConfig{{ID: "a", QuietStartHour: 24}}
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mut(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info", Console: true}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug", Console: true},
		Dispatch: &DispatchConfig{
			Enabled: true, Workers: 8, QueueSize: 512, RatePerSec: 3,
			RetryMax: 3, RetryBase: "500ms", RetryMaxDelay: "10s",
			DedupWindow: "1m", DedupMaxEntries: 2000, HistorySize: 200, DrainTimeout: "5s",
		},
		Storage: &StorageConfig{Driver: "file", Path: "./store"},
	}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "dispatch": true, "storage": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}

	// Omitted dispatch compares equal to the spelled-out defaults.
	explicit := DefaultDispatch()
	changed, _ = SummarizeConfigChange(&Config{}, &Config{Dispatch: &explicit})
	for _, c := range changed {
		if c == "dispatch" {
			t.Fatalf("defaults should not register as a change: %v", changed)
		}
	}
}
