package dispatch

import "sync"

// clientLocks serializes processing per client id. Different clients proceed
// in parallel; two events for the same client never interleave between the
// profile read and the digest/last-notified mutation.
type clientLocks struct {
	mu    sync.Mutex
	locks map[string]*clientLock
}

type clientLock struct {
	mu   sync.Mutex
	refs int
}

func newClientLocks() *clientLocks {
	return &clientLocks{locks: map[string]*clientLock{}}
}

// lock acquires the mutex for key and returns its release func. Entries are
// reference-counted and removed when the last holder releases, so the map
// doesn't grow with the client universe.
func (c *clientLocks) lock(key string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &clientLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs <= 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
