package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"alertflow/internal/channels"
	"alertflow/internal/routing"
	logx "alertflow/pkg/logx"
)

func TestFlusherSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Two clients accumulate digests; a third has nothing pending.
	for _, client := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			h.clock = h.clock.Add(time.Second)
			h.svc.Process(context.Background(), h.event(fmt.Sprintf("%s-%d", client, i), func(ev *routing.NotificationEvent) {
				ev.ClientID = client
			}))
		}
	}

	f, err := NewFlusher(h.svc, "@every 1m", "", logx.Nop())
	if err != nil {
		t.Fatalf("NewFlusher: %v", err)
	}

	// Before the window elapses the sweep is a no-op.
	emailBefore := h.email.count()
	f.Sweep(context.Background())
	if h.email.count() != emailBefore {
		t.Fatal("sweep flushed inside the rolling window")
	}

	h.clock = h.clock.Add(2 * time.Hour)
	f.Sweep(context.Background())

	// One aggregate per client with pending items.
	if got := h.email.count() - emailBefore; got != 2 {
		t.Fatalf("flushed aggregates = %d, want 2", got)
	}
	for _, client := range []string{"a", "b"} {
		p, err := h.store.GetProfile(context.Background(), client)
		if err != nil {
			t.Fatalf("GetProfile(%s): %v", client, err)
		}
		if p.PendingCount != 0 {
			t.Fatalf("client %s pending = %d after sweep", client, p.PendingCount)
		}
	}
}

func TestScheduledFlushFailureKeepsDigest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Deliver one, defer two.
	for i := 0; i < 3; i++ {
		h.clock = h.clock.Add(time.Second)
		h.svc.Process(context.Background(), h.event(fmt.Sprintf("ev-%d", i), nil))
	}
	p, _ := h.store.GetProfile(context.Background(), "acme")
	prevNotified := p.LastNotified

	// Gateway down past retries: the flush fails and must leave the digest
	// and the fatigue stamp exactly as they were.
	h.clock = h.clock.Add(2 * time.Hour)
	h.email.fail = channels.Permanent("gateway decommissioned")
	flushed, err := h.svc.FlushClient(context.Background(), "acme")
	if flushed || err == nil {
		t.Fatalf("FlushClient = %v, %v; want failed flush", flushed, err)
	}

	p, _ = h.store.GetProfile(context.Background(), "acme")
	if p.PendingCount != 2 {
		t.Fatalf("pending after failed flush = %d, want 2", p.PendingCount)
	}
	if !p.LastNotified.Equal(prevNotified) {
		t.Fatalf("last notified = %v, want rewound to %v", p.LastNotified, prevNotified)
	}

	// Next sweep after recovery delivers the full digest.
	h.email.fail = nil
	flushed, err = h.svc.FlushClient(context.Background(), "acme")
	if err != nil || !flushed {
		t.Fatalf("FlushClient after recovery = %v, %v", flushed, err)
	}
	if msg := h.email.last(); !msg.Aggregate || msg.Count != 2 {
		t.Fatalf("aggregate = %+v, want count 2", msg)
	}
	p, _ = h.store.GetProfile(context.Background(), "acme")
	if p.PendingCount != 0 {
		t.Fatalf("pending after recovery = %d", p.PendingCount)
	}
}

func TestNewFlusherValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if _, err := NewFlusher(h.svc, "", "", logx.Nop()); err == nil {
		t.Fatal("expected error for empty schedule")
	}
	if _, err := NewFlusher(h.svc, "@every 1m", "Mars/Olympus", logx.Nop()); err == nil {
		t.Fatal("expected error for bad timezone")
	}
	if _, err := NewFlusher(h.svc, "not a schedule", "", logx.Nop()); err == nil {
		t.Fatal("expected error for bad schedule")
	}
}
