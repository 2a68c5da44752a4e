// Package audit writes the append-only dispatch ledger. Every decision the
// engine makes lands here exactly once, whether or not a message went out.
package audit

import (
	"context"
	"strings"
	"time"

	"alertflow/internal/eventbus"
	"alertflow/internal/routing"
	"alertflow/internal/storage"
	logx "alertflow/pkg/logx"
)

// Recorder appends dispatch decisions to the store's audit ledger with its
// own short retry, independent of delivery retries. Ledger failure never
// blocks or fails the dispatch path: the entry is emitted to the structured
// log instead and an audit.failed event is published so operators notice.
type Recorder struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	attempts int
	backoff  time.Duration
}

func NewRecorder(store storage.Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store:    store,
		bus:      bus,
		log:      log,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

// Record persists the decision. Best-effort: it never returns an error.
func (r *Recorder) Record(ctx context.Context, d routing.DispatchDecision) {
	e := storage.AuditEntry{
		At:       d.At,
		EventID:  d.EventID,
		ClientID: d.ClientID,
		Severity: d.Severity.String(),
		Channels: routing.ChannelNames(d.Channels),
		Outcome:  string(d.Outcome),
		Reason:   d.Reason,
		Error:    d.Error,
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := r.store.AppendAudit(wctx, e)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if attempt >= r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			attempt = r.attempts
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}

	// Fallback: the decision must survive somewhere. The structured log is
	// the ledger of last resort.
	r.log.Error("audit write failed; decision logged only",
		logx.Any("err", lastErr),
		logx.String("event_id", e.EventID),
		logx.String("client_id", e.ClientID),
		logx.String("severity", e.Severity),
		logx.String("channels", e.Channels),
		logx.String("outcome", e.Outcome),
		logx.String("reason", e.Reason),
	)
	if r.bus != nil {
		errStr := ""
		if lastErr != nil {
			errStr = lastErr.Error()
		}
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAuditFail,
			Time: time.Now(),
			Data: FailedWrite{Entry: e, Error: errStr},
		})
	}
}

// FailedWrite is the payload of an audit.failed bus event.
type FailedWrite struct {
	Entry storage.AuditEntry
	Error string
}

// Reason builds a compact decision reason string from parts, skipping blanks.
func Reason(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "; ")
}
