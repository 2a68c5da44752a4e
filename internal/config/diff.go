package config

import (
	"reflect"
	"sort"
	"strings"

	logx "alertflow/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (telegram/webhook tokens) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Dispatch (pipeline). Nil means runtime defaults; compare against them
	// so omitting the section reads the same as writing the defaults out.
	oldD := effectiveDispatch(oldCfg.Dispatch)
	newD := effectiveDispatch(newCfg.Dispatch)
	if oldD != newD {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", newD.Enabled),
			logx.Int("dispatch.workers", newD.Workers),
			logx.Int("dispatch.queue_size", newD.QueueSize),
			logx.Int("dispatch.rate_per_sec", newD.RatePerSec),
			logx.Int("dispatch.retry_max", newD.RetryMax),
			logx.Bool("dispatch.persist_dedup", newD.PersistDedup),
		)
	}

	// Routing thresholds
	oldR := derefRouting(oldCfg.Routing)
	newR := derefRouting(newCfg.Routing)
	if oldR != newR {
		changed = append(changed, "routing")
		attrs = append(attrs,
			logx.Float64("routing.critical_impact_threshold", newR.CriticalImpactThreshold),
		)
	}

	// Digest window / flusher
	oldG := derefDigest(oldCfg.Digest)
	newG := derefDigest(newCfg.Digest)
	if oldG != newG {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.String("digest.window", strings.TrimSpace(newG.Window)),
			logx.String("digest.flush_schedule", strings.TrimSpace(newG.FlushSchedule)),
			logx.String("digest.timezone", strings.TrimSpace(newG.Timezone)),
		)
	}

	// Storage. Nil means in-memory.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Channels (never log tokens)
	if channelsChanged(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.telegram", newCfg.Channels.Telegram != nil),
			logx.Int("channels.webhook_count", len(newCfg.Channels.Webhooks)),
			logx.Bool("channels.inapp", newCfg.Channels.InApp != nil),
		)
	}

	// Client seed profiles
	if !reflect.DeepEqual(oldCfg.Clients, newCfg.Clients) {
		changed = append(changed, "clients")
		attrs = append(attrs, logx.Int("clients.count", len(newCfg.Clients)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func channelsChanged(o, n ChannelsConfig) bool {
	ot, nt := o.Telegram, n.Telegram
	if (ot == nil) != (nt == nil) {
		return true
	}
	if ot != nil && nt != nil {
		if ot.ChatID != nt.ChatID ||
			strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
			(strings.TrimSpace(ot.Token) != "") != (strings.TrimSpace(nt.Token) != "") ||
			strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) {
			return true
		}
	}
	if !reflect.DeepEqual(o.Webhooks, n.Webhooks) {
		return true
	}
	oi, ni := o.InApp, n.InApp
	if (oi == nil) != (ni == nil) {
		return true
	}
	if oi != nil && ni != nil && *oi != *ni {
		return true
	}
	return false
}

// DefaultDispatch is the effective dispatch config when the section is omitted.
func DefaultDispatch() DispatchConfig {
	return DispatchConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		HistorySize:     200,
		DrainTimeout:    "5s",
	}
}

func effectiveDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DefaultDispatch()
	}
	return *d
}

func derefRouting(r *RoutingConfig) RoutingConfig {
	if r == nil {
		return RoutingConfig{}
	}
	return *r
}

func derefDigest(d *DigestConfig) DigestConfig {
	if d == nil {
		return DigestConfig{}
	}
	return *d
}
