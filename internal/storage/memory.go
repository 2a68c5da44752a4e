package storage

import (
	"context"
	"sync"
	"time"
)

// Memory keeps everything in process-local maps. It backs tests and the
// best-effort fallback path when no durable store is configured.
type Memory struct {
	mu sync.Mutex

	profiles map[string]ClientProfile
	digests  map[string][]DigestItem
	dedup    map[string]time.Time
	audit    []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		profiles: map[string]ClientProfile{},
		digests:  map[string][]DigestItem{},
		dedup:    map[string]time.Time{},
	}
}

func (s *Memory) GetProfile(ctx context.Context, clientID string) (ClientProfile, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[clientID]
	if !ok {
		return ClientProfile{}, ErrNotFound
	}
	p.PendingCount = len(s.digests[clientID])
	return p, nil
}

func (s *Memory) PutProfile(ctx context.Context, p ClientProfile) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.profiles[p.ClientID]
	if ok && p.LastNotified.IsZero() {
		p.LastNotified = prev.LastNotified
	}
	s.profiles[p.ClientID] = p
	return nil
}

func (s *Memory) UpdateLastNotified(ctx context.Context, clientID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[clientID]
	p.ClientID = clientID
	p.LastNotified = at
	s.profiles[clientID] = p
	return nil
}

func (s *Memory) AppendDigest(ctx context.Context, clientID string, item DigestItem) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests[clientID] = append(s.digests[clientID], item)
	return nil
}

func (s *Memory) FlushDigest(ctx context.Context, clientID string, at time.Time) ([]DigestItem, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.digests[clientID]
	if len(items) == 0 {
		return nil, nil
	}
	delete(s.digests, clientID)
	p := s.profiles[clientID]
	p.ClientID = clientID
	p.LastNotified = at
	s.profiles[clientID] = p
	return items, nil
}

func (s *Memory) PendingDigestClients(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.digests))
	for id, items := range s.digests {
		if len(items) > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until
	return nil
}

func (s *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[key]
	return until, ok, nil
}

func (s *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

// AuditEntries returns a snapshot of recorded entries. Test helper; the
// engine itself never reads the ledger back.
func (s *Memory) AuditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *Memory) Close() error { return nil }
