package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "alertflow/pkg/logx"
)

// Flusher periodically sweeps clients with pending digests and flushes any
// whose rolling window has elapsed, so a digest goes out even when no new
// event arrives to trigger the lazy path.
type Flusher struct {
	svc *Service
	log logx.Logger
	c   *cron.Cron
}

// NewFlusher builds a cron-driven flusher. schedule is a cron spec (e.g.
// "@every 1m"); tz is optional and defaults to the local zone.
func NewFlusher(svc *Service, schedule, tz string, log logx.Logger) (*Flusher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, fmt.Errorf("flusher schedule is empty")
	}

	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("flusher timezone: %w", err)
		}
		loc = l
	}

	f := &Flusher{svc: svc, log: log}
	f.c = cron.New(cron.WithLocation(loc))
	if _, err := f.c.AddFunc(schedule, f.sweep); err != nil {
		return nil, fmt.Errorf("flusher schedule: %w", err)
	}
	return f, nil
}

func (f *Flusher) Start() { f.c.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (f *Flusher) Stop(ctx context.Context) {
	done := f.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Sweep flushes every eligible pending digest once. Exported so tests and
// operational tooling can force a pass.
func (f *Flusher) Sweep(ctx context.Context) {
	clientIDs, err := f.svc.store.PendingDigestClients(ctx)
	if err != nil {
		f.log.Warn("digest sweep: listing pending clients failed", logx.Any("err", err))
		return
	}
	for _, id := range clientIDs {
		if ctx.Err() != nil {
			return
		}
		flushed, err := f.svc.FlushClient(ctx, id)
		if err != nil {
			f.log.Warn("digest flush failed", logx.String("client_id", id), logx.Any("err", err))
			continue
		}
		if flushed {
			f.log.Debug("digest flushed", logx.String("client_id", id))
		}
	}
}

func (f *Flusher) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	f.Sweep(ctx)
}
