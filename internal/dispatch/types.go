package dispatch

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("dispatch disabled")
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch stopped")
)

// Config controls the delivery pipeline. Zero fields fall back to defaults in
// applyLocked, so a partially filled config is safe to use.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// RatePerSec bounds outbound sends across all channels (token bucket).
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses replays of the same event id. 0 disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// DigestWindow is the rolling anti-fatigue window per client.
	DigestWindow time.Duration

	HistorySize  int
	DrainTimeout time.Duration

	// SendTimeout bounds a single adapter call.
	SendTimeout time.Duration
}

// HistoryItem is one recently delivered notification kept for inspection.
type HistoryItem struct {
	At       time.Time
	ClientID string
	Channels string
	Text     string
}
