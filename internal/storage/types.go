package storage

import (
	"errors"
	"time"

	"alertflow/internal/routing"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound is returned by GetProfile for clients that were never
	// provisioned. Callers decide the fail-safe path.
	ErrNotFound = errors.New("profile not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, best-effort fallback)
//   - "file":   dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ClientProfile is the per-client routing preference record. Only
// LastNotified and the pending digest are mutated by this subsystem; both
// mutations go through the atomic Store operations below.
type ClientProfile struct {
	ClientID     string             `json:"client_id"`
	Quiet        routing.QuietHours `json:"quiet"`
	LastNotified time.Time          `json:"last_notified"`
	PendingCount int                `json:"pending_count"`
}

// DigestItem is one suppressed event waiting in a client's pending digest.
type DigestItem struct {
	EventID string    `json:"event_id"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Count   int       `json:"count"` // sub-event count carried by the source event (min 1)
	At      time.Time `json:"at"`
}

// AuditEntry records one dispatch decision. Keep it compact and
// schema-stable; the ledger is append-only and never read back here.
type AuditEntry struct {
	At       time.Time `json:"at"`
	EventID  string    `json:"event_id"`
	ClientID string    `json:"client_id"`
	Severity string    `json:"severity"`
	Channels string    `json:"channels,omitempty"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason,omitempty"`
	Error    string    `json:"error,omitempty"`
}
