package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"alertflow/internal/routing"
)

// Validate checks a parsed config for semantic errors the decoder can't catch
// (bad durations, unknown channel names, out-of-range hours). It is installed
// as the Manager validator so a broken edit never reaches running services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if d := cfg.Dispatch; d != nil {
		if d.Workers < 0 {
			return fmt.Errorf("dispatch.workers: must be >= 0")
		}
		if d.QueueSize < 0 {
			return fmt.Errorf("dispatch.queue_size: must be >= 0")
		}
		if d.RetryMax < 0 {
			return fmt.Errorf("dispatch.retry_max: must be >= 0")
		}
		for _, f := range []struct{ path, raw string }{
			{"dispatch.retry_base", d.RetryBase},
			{"dispatch.retry_max_delay", d.RetryMaxDelay},
			{"dispatch.dedup_window", d.DedupWindow},
			{"dispatch.drain_timeout", d.DrainTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	if r := cfg.Routing; r != nil {
		if r.CriticalImpactThreshold < 0 || r.CriticalImpactThreshold > 1 {
			return fmt.Errorf("routing.critical_impact_threshold: must be in [0, 1]")
		}
	}

	if g := cfg.Digest; g != nil {
		if _, err := ParseDurationField("digest.window", g.Window); err != nil {
			return err
		}
		if spec := strings.TrimSpace(g.FlushSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("digest.flush_schedule: %w", err)
			}
		}
		if tz := strings.TrimSpace(g.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: %w", err)
			}
		}
	}

	if s := cfg.Storage; s != nil {
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		switch driver {
		case "", "memory":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path: required for driver %q", driver)
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if t := cfg.Channels.Telegram; t != nil {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("channels.telegram.token: required")
		}
		if _, err := ParseDurationField("channels.telegram.poll_timeout", t.PollTimeout); err != nil {
			return err
		}
	}
	for name, wh := range cfg.Channels.Webhooks {
		if !routing.ParseChannel(name).Valid() {
			return fmt.Errorf("channels.webhooks[%q]: unknown channel", name)
		}
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("channels.webhooks[%q].url: required", name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("channels.webhooks[%q].timeout", name), wh.Timeout); err != nil {
			return err
		}
		if wh.RatePerSec < 0 {
			return fmt.Errorf("channels.webhooks[%q].rate_per_sec: must be >= 0", name)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Clients))
	for i, c := range cfg.Clients {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("clients[%d].id: required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("clients[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if c.QuietStartHour < 0 || c.QuietStartHour > 23 {
			return fmt.Errorf("clients[%d].quiet_start_hour: must be in [0, 23]", i)
		}
		if c.QuietEndHour < 0 || c.QuietEndHour > 23 {
			return fmt.Errorf("clients[%d].quiet_end_hour: must be in [0, 23]", i)
		}
	}

	return nil
}
