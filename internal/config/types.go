package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Dispatch controls the async delivery pipeline (queue, workers, retry,
	// dedup). If the whole section is omitted, dispatch defaults to enabled.
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`

	// Routing tunes the severity classifier thresholds.
	Routing *RoutingConfig `json:"routing,omitempty"`

	// Digest controls the anti-fatigue batching window and the periodic
	// flusher schedule.
	Digest *DigestConfig `json:"digest,omitempty"`

	Storage  *StorageConfig `json:"storage,omitempty"`
	Channels ChannelsConfig `json:"channels"`

	// Clients seeds per-client profiles (quiet hours) into the store at
	// startup. Profiles already present in the store are updated in place.
	Clients []ClientConfig `json:"clients,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 512
//   - rate_per_sec: 3
//   - retry_max: 3
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
//   - dedup_window: "1m"
//   - dedup_max_entries: 2000
//   - history_size: 200
//   - drain_timeout: "5s"
type DispatchConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
	DrainTimeout    string `json:"drain_timeout,omitempty"`
}

type RoutingConfig struct {
	// CriticalImpactThreshold is the budget impact fraction at which a
	// budget-guardian event is promoted to critical. Default 0.5.
	CriticalImpactThreshold float64 `json:"critical_impact_threshold,omitempty"`
}

// DigestConfig controls low-severity batching.
type DigestConfig struct {
	// Window is the anti-fatigue window per client (Go duration string).
	// Default "60m".
	Window string `json:"window,omitempty"`
	// FlushSchedule is a cron spec for the periodic digest flusher
	// (e.g. "@every 1m"). Empty disables the periodic flusher; digests are
	// then flushed lazily when the next event for the client arrives.
	FlushSchedule string `json:"flush_schedule,omitempty"`
	// Timezone for the flusher schedule, default local.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./alertflow.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ChannelsConfig wires the delivery adapters. A channel with no adapter
// configured fails permanently at dispatch time (and falls back to the next
// less intrusive channel).
type ChannelsConfig struct {
	Telegram *TelegramChannelConfig        `json:"telegram,omitempty"`
	Webhooks map[string]WebhookChannelSpec `json:"webhooks,omitempty"`
	InApp    *InAppChannelConfig           `json:"inapp,omitempty"`
}

type TelegramChannelConfig struct {
	Token string `json:"token"`
	// ChatID is the target chat for team-chat deliveries. Per-client chats
	// come from the client profile when set.
	ChatID int64 `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WebhookChannelSpec configures one HTTP gateway adapter. The map key in
// ChannelsConfig.Webhooks is the channel name it serves (e.g. "urgent-voice",
// "urgent-text", "email-digest").
type WebhookChannelSpec struct {
	URL        string `json:"url"`
	Timeout    string `json:"timeout,omitempty"` // Go duration string, default "10s"
	Token      string `json:"token,omitempty"`   // optional bearer token (do not log)
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type InAppChannelConfig struct {
	// BufferSize caps the per-client silent inbox ring. Default 100.
	BufferSize int `json:"buffer_size,omitempty"`
}

type ClientConfig struct {
	ID string `json:"id"`
	// Quiet hours in the client's local interpretation, [start, end) wall
	// clock hours 0-23. start == end means no quiet window.
	QuietEnabled   bool `json:"quiet_enabled"`
	QuietStartHour int  `json:"quiet_start_hour"`
	QuietEndHour   int  `json:"quiet_end_hour"`
	// TelegramChatID overrides the global team-chat target for this client.
	TelegramChatID int64 `json:"telegram_chat_id,omitempty"`
}
