// Package eventbus carries routing lifecycle signals between the engine and
// in-process observers (operational logging, tests). It is deliberately not a
// delivery mechanism: losing a bus event never loses a notification, the
// audit ledger is the durable record.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published along the routing pipeline. Data carries the
// DispatchDecision for dispatch.* and digest.* events, and the failed audit
// entry for audit.failed.
const (
	TypeQueued    = "dispatch.queued"
	TypeDelivered = "dispatch.delivered"
	TypeDeferred  = "dispatch.deferred"
	TypeDeduped   = "dispatch.deduped"
	TypeFailed    = "dispatch.failed"
	TypeDigest    = "digest.flushed"
	TypeAuditFail = "audit.failed"
)

// Event is one pipeline signal. Publish never blocks, so a stalled observer
// sees gaps rather than stalling dispatch.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-process fanout bus. It owns no goroutines; publishing
// happens on the caller's stack.
func New() Bus {
	return &fanoutBus{observers: map[uint64]chan Event{}}
}

type fanoutBus struct {
	mu        sync.RWMutex
	observers map[uint64]chan Event
	nextID    atomic.Uint64
}

func (b *fanoutBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Snapshot under the read lock, send outside it.
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.observers))
	for _, ch := range b.observers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// A full observer drops the event; an observer that unsubscribed
		// between the snapshot and the send closes its channel, so the send
		// panic is absorbed here.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *fanoutBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.observers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
