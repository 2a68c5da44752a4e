package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"alertflow/internal/routing"
	logx "alertflow/pkg/logx"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileSt, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sqlSt, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   fileSt,
		"sqlite": sqlSt,
	}
	t.Cleanup(func() {
		for _, st := range stores {
			_ = st.Close()
		}
	})
	return stores
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.GetProfile(ctx, "nobody"); err != ErrNotFound {
				t.Fatalf("GetProfile(missing) err = %v, want ErrNotFound", err)
			}

			p := ClientProfile{
				ClientID: "acme",
				Quiet:    routing.QuietHours{Enabled: true, StartHour: 20, EndHour: 8},
			}
			if err := st.PutProfile(ctx, p); err != nil {
				t.Fatalf("PutProfile: %v", err)
			}
			got, err := st.GetProfile(ctx, "acme")
			if err != nil {
				t.Fatalf("GetProfile: %v", err)
			}
			if got.Quiet != p.Quiet {
				t.Fatalf("Quiet = %+v, want %+v", got.Quiet, p.Quiet)
			}
			if got.PendingCount != 0 {
				t.Fatalf("PendingCount = %d, want 0", got.PendingCount)
			}

			at := time.Now().Truncate(time.Millisecond)
			if err := st.UpdateLastNotified(ctx, "acme", at); err != nil {
				t.Fatalf("UpdateLastNotified: %v", err)
			}
			got, err = st.GetProfile(ctx, "acme")
			if err != nil {
				t.Fatalf("GetProfile: %v", err)
			}
			if !got.LastNotified.Equal(at) {
				t.Fatalf("LastNotified = %v, want %v", got.LastNotified, at)
			}
			// Re-provisioning must not wipe the notification stamp.
			if err := st.PutProfile(ctx, p); err != nil {
				t.Fatalf("PutProfile again: %v", err)
			}
			got, _ = st.GetProfile(ctx, "acme")
			if got.LastNotified.IsZero() {
				t.Fatal("PutProfile cleared LastNotified")
			}
		})
	}
}

func TestDigestFlushIsAtomic(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			const client = "acme"
			for i := 0; i < 4; i++ {
				item := DigestItem{
					EventID: "ev-" + string(rune('a'+i)),
					Source:  routing.SourceBiddingOptimization,
					Message: "optimized",
					Count:   1,
					At:      time.Now(),
				}
				if err := st.AppendDigest(ctx, client, item); err != nil {
					t.Fatalf("AppendDigest: %v", err)
				}
			}

			p, err := st.GetProfile(ctx, client)
			if err != nil && err != ErrNotFound {
				t.Fatalf("GetProfile: %v", err)
			}
			if err == nil && p.PendingCount != 4 {
				t.Fatalf("PendingCount = %d, want 4", p.PendingCount)
			}

			// Concurrent flushes: exactly one drains the digest.
			at := time.Now()
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				flushed [][]DigestItem
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					items, err := st.FlushDigest(ctx, client, at)
					if err != nil {
						t.Errorf("FlushDigest: %v", err)
						return
					}
					if len(items) > 0 {
						mu.Lock()
						flushed = append(flushed, items)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(flushed) != 1 {
				t.Fatalf("digest drained by %d flushes, want 1", len(flushed))
			}
			if len(flushed[0]) != 4 {
				t.Fatalf("flushed %d items, want 4", len(flushed[0]))
			}

			// Flush on an empty digest is a no-op.
			items, err := st.FlushDigest(ctx, client, time.Now())
			if err != nil {
				t.Fatalf("FlushDigest(empty): %v", err)
			}
			if items != nil {
				t.Fatalf("FlushDigest(empty) = %v, want nil", items)
			}
		})
	}
}

func TestPendingDigestClients(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = st.AppendDigest(ctx, "a", DigestItem{EventID: "1", Source: "s", Message: "m", Count: 1, At: time.Now()})
			_ = st.AppendDigest(ctx, "b", DigestItem{EventID: "2", Source: "s", Message: "m", Count: 1, At: time.Now()})

			ids, err := st.PendingDigestClients(ctx)
			if err != nil {
				t.Fatalf("PendingDigestClients: %v", err)
			}
			if len(ids) != 2 {
				t.Fatalf("clients = %v, want 2 entries", ids)
			}
		})
	}
}

func TestDedupRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "ev-1", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "ev-1")
			if err != nil || !ok {
				t.Fatalf("GetDedup = (%v, %v, %v)", got, ok, err)
			}
			if !got.Equal(until) {
				t.Fatalf("until = %v, want %v", got, until)
			}
			if _, ok, _ := st.GetDedup(ctx, "ev-2"); ok {
				t.Fatal("GetDedup(missing) reported ok")
			}
		})
	}
}

func TestAppendAudit(t *testing.T) {
	ctx := context.Background()
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			e := AuditEntry{
				EventID:  "ev-1",
				ClientID: "acme",
				Severity: "critical",
				Channels: "urgent-voice,urgent-text",
				Outcome:  "delivered",
				Reason:   "severity=critical",
			}
			if err := st.AppendAudit(ctx, e); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
		})
	}
}

func TestFileStoreReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.PutProfile(ctx, ClientProfile{ClientID: "acme", Quiet: routing.QuietHours{Enabled: true, StartHour: 22, EndHour: 6}})
	_ = st.AppendDigest(ctx, "acme", DigestItem{EventID: "e1", Source: "s", Message: "m", Count: 2, At: time.Now()})
	_ = st.PutDedup(ctx, "e1", time.Now().Add(time.Hour))
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	p, err := st2.GetProfile(ctx, "acme")
	if err != nil {
		t.Fatalf("GetProfile after replay: %v", err)
	}
	if !p.Quiet.Enabled || p.Quiet.StartHour != 22 {
		t.Fatalf("profile not replayed: %+v", p)
	}
	if p.PendingCount != 1 {
		t.Fatalf("PendingCount = %d, want 1", p.PendingCount)
	}
	if _, ok, _ := st2.GetDedup(ctx, "e1"); !ok {
		t.Fatal("dedup not replayed")
	}
}
