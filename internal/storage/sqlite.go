package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "alertflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetProfile(ctx context.Context, clientID string) (ClientProfile, error) {
	if s == nil || s.db == nil {
		return ClientProfile{}, ErrDisabled
	}
	var (
		p        ClientProfile
		enabled  int
		notified sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, quiet_enabled, quiet_start, quiet_end, last_notified
		 FROM profiles WHERE client_id = ?`, clientID,
	).Scan(&p.ClientID, &enabled, &p.Quiet.StartHour, &p.Quiet.EndHour, &notified)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientProfile{}, ErrNotFound
	}
	if err != nil {
		return ClientProfile{}, err
	}
	p.Quiet.Enabled = enabled != 0
	if notified.Valid && notified.String != "" {
		if t, perr := time.Parse(time.RFC3339Nano, notified.String); perr == nil {
			p.LastNotified = t
		}
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM digest WHERE client_id = ?`, clientID,
	).Scan(&p.PendingCount)
	if err != nil {
		return ClientProfile{}, err
	}
	return p, nil
}

func (s *sqliteStore) PutProfile(ctx context.Context, p ClientProfile) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	enabled := 0
	if p.Quiet.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles(client_id, quiet_enabled, quiet_start, quiet_end, last_notified)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(client_id) DO UPDATE SET
		   quiet_enabled=excluded.quiet_enabled,
		   quiet_start=excluded.quiet_start,
		   quiet_end=excluded.quiet_end`,
		p.ClientID, enabled, p.Quiet.StartHour, p.Quiet.EndHour, timeStr(p.LastNotified),
	)
	return err
}

func (s *sqliteStore) UpdateLastNotified(ctx context.Context, clientID string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles(client_id, quiet_enabled, quiet_start, quiet_end, last_notified)
		 VALUES(?,0,0,0,?)
		 ON CONFLICT(client_id) DO UPDATE SET last_notified=excluded.last_notified`,
		clientID, at.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendDigest(ctx context.Context, clientID string, item DigestItem) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest(client_id, event_id, source, message, count, at)
		 VALUES(?,?,?,?,?,?)`,
		clientID, item.EventID, item.Source, item.Message, item.Count,
		item.At.Format(time.RFC3339Nano),
	)
	return err
}

// FlushDigest selects and clears the pending items and stamps last_notified
// inside one transaction, so concurrent flushes for the same client cannot
// both drain the digest.
func (s *sqliteStore) FlushDigest(ctx context.Context, clientID string, at time.Time) ([]DigestItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT event_id, source, message, count, at FROM digest WHERE client_id = ? ORDER BY id`,
		clientID,
	)
	if err != nil {
		return nil, err
	}
	var items []DigestItem
	for rows.Next() {
		var (
			it DigestItem
			ts string
		)
		if err := rows.Scan(&it.EventID, &it.Source, &it.Message, &it.Count, &ts); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			it.At = t
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(items) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM digest WHERE client_id = ?`, clientID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles(client_id, quiet_enabled, quiet_start, quiet_end, last_notified)
		 VALUES(?,0,0,0,?)
		 ON CONFLICT(client_id) DO UPDATE SET last_notified=excluded.last_notified`,
		clientID, at.Format(time.RFC3339Nano),
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *sqliteStore) PendingDigestClients(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT client_id FROM digest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, event_id, client_id, severity, channels, outcome, reason, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.EventID, e.ClientID, e.Severity,
		nullStr(e.Channels), e.Outcome, nullStr(e.Reason), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func timeStr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
