package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "alertflow/pkg/logx"
)

// Store is the persistence API the dispatch engine runs on: client
// preference profiles, pending digests, cross-restart event dedup, and the
// append-only audit ledger.
//
// UpdateLastNotified, AppendDigest and FlushDigest compose into the atomic
// per-client update the batcher relies on: FlushDigest returns the pending
// items, clears them, and stamps LastNotified in a single step so two
// concurrent flushes cannot both observe a full digest.
type Store interface {
	GetProfile(ctx context.Context, clientID string) (ClientProfile, error)
	PutProfile(ctx context.Context, p ClientProfile) error
	UpdateLastNotified(ctx context.Context, clientID string, at time.Time) error
	AppendDigest(ctx context.Context, clientID string, item DigestItem) error
	FlushDigest(ctx context.Context, clientID string, at time.Time) ([]DigestItem, error)
	PendingDigestClients(ctx context.Context) ([]string, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver defaults to memory
// so the engine can always run.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
