package channels

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"alertflow/internal/routing"
)

// ErrNoAdapter is returned by Registry.Deliver when no adapter serves the
// requested channel. It is permanent from the caller's point of view: the
// dispatcher should fall back to a less intrusive channel instead of retrying.
var ErrNoAdapter = errors.New("no adapter registered for channel")

// Registry maps channels to adapters and enforces the per-adapter send rate.
type Registry struct {
	mu       sync.RWMutex
	adapters map[routing.Channel]entry
}

type entry struct {
	adapter Adapter
	limiter *rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[routing.Channel]entry)}
}

// Register binds an adapter to a channel. ratePerSec <= 0 disables the
// per-adapter limiter. Re-registering a channel replaces the previous binding
// (used for config hot reload).
func (r *Registry) Register(ch routing.Channel, a Adapter, ratePerSec int) {
	if a == nil || !ch.Valid() {
		return
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	r.mu.Lock()
	r.adapters[ch] = entry{adapter: a, limiter: lim}
	r.mu.Unlock()
}

// Unregister removes the binding for ch.
func (r *Registry) Unregister(ch routing.Channel) {
	r.mu.Lock()
	delete(r.adapters, ch)
	r.mu.Unlock()
}

// Has reports whether an adapter serves ch.
func (r *Registry) Has(ch routing.Channel) bool {
	r.mu.RLock()
	_, ok := r.adapters[ch]
	r.mu.RUnlock()
	return ok
}

// Deliver sends msg to clientID over ch, waiting on the adapter's rate
// limiter first. Returns ErrNoAdapter (wrapped permanent) when ch is unbound.
func (r *Registry) Deliver(ctx context.Context, ch routing.Channel, clientID string, msg Message) error {
	r.mu.RLock()
	e, ok := r.adapters[ch]
	r.mu.RUnlock()
	if !ok {
		return &DeliveryError{Err: ErrNoAdapter, Permanent: true}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return e.adapter.Deliver(ctx, clientID, msg)
}
