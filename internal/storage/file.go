package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "alertflow/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl          (append-only JSON Lines)
//   - <prefix>.state.snapshot.json  (periodic snapshot of profiles/digests/dedup)
//   - <prefix>.state.journal.jsonl  (append-only mutation journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File

	profiles map[string]ClientProfile
	digests  map[string][]DigestItem
	dedup    map[string]int64 // unix milli

	writes int
}

type fileState struct {
	Profiles map[string]ClientProfile `json:"profiles"`
	Digests  map[string][]DigestItem  `json:"digests"`
	Dedup    map[string]int64         `json:"dedup"`
}

// journalRecord is one mutation. Exactly one of the payload fields is set,
// keyed by Op.
type journalRecord struct {
	Op       string         `json:"op"` // profile | notified | digest | flush | dedup
	ClientID string         `json:"client_id,omitempty"`
	Profile  *ClientProfile `json:"profile,omitempty"`
	Item     *DigestItem    `json:"item,omitempty"`
	At       int64          `json:"at,omitempty"`    // unix milli
	Key      string         `json:"key,omitempty"`   // dedup
	Until    int64          `json:"until,omitempty"` // dedup
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		profiles:     map[string]ClientProfile{},
		digests:      map[string][]DigestItem{},
		dedup:        map[string]int64{},
	}
	_ = st.loadSnapshot(snapPath)
	_ = st.replayJournal(journalPath)
	pruneExpiredDedup(st.dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	st.journalFile = jf

	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) GetProfile(ctx context.Context, clientID string) (ClientProfile, error) {
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

func (s *fileStore) PutProfile(ctx context.Context, p ClientProfile) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.profiles[p.ClientID]; ok && p.LastNotified.IsZero() {
		p.LastNotified = prev.LastNotified
	}
	s.profiles[p.ClientID] = p
	return s.journalLocked(journalRecord{Op: "profile", ClientID: p.ClientID, Profile: &p})
}

func (s *fileStore) UpdateLastNotified(ctx context.Context, clientID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchNotifiedLocked(clientID, at)
	return s.journalLocked(journalRecord{Op: "notified", ClientID: clientID, At: at.UnixMilli()})
}

func (s *fileStore) AppendDigest(ctx context.Context, clientID string, item DigestItem) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests[clientID] = append(s.digests[clientID], item)
	return s.journalLocked(journalRecord{Op: "digest", ClientID: clientID, Item: &item})
}

func (s *fileStore) FlushDigest(ctx context.Context, clientID string, at time.Time) ([]DigestItem, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.digests[clientID]
	if len(items) == 0 {
		return nil, nil
	}
	delete(s.digests, clientID)
	s.touchNotifiedLocked(clientID, at)
	if err := s.journalLocked(journalRecord{Op: "flush", ClientID: clientID, At: at.UnixMilli()}); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *fileStore) PendingDigestClients(ctx context.Context) ([]string, error) {
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

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	return s.journalLocked(journalRecord{Op: "dedup", Key: key, Until: until.UnixMilli()})
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) touchNotifiedLocked(clientID string, at time.Time) {
	p := s.profiles[clientID]
	p.ClientID = clientID
	p.LastNotified = at
	s.profiles[clientID] = p
}

func (s *fileStore) journalLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) applyRecord(r journalRecord) {
	switch r.Op {
	case "profile":
		if r.Profile != nil {
			s.profiles[r.Profile.ClientID] = *r.Profile
		}
	case "notified":
		s.touchNotifiedLocked(r.ClientID, time.UnixMilli(r.At))
	case "digest":
		if r.Item != nil {
			s.digests[r.ClientID] = append(s.digests[r.ClientID], *r.Item)
		}
	case "flush":
		delete(s.digests, r.ClientID)
		s.touchNotifiedLocked(r.ClientID, time.UnixMilli(r.At))
	case "dedup":
		if r.Key != "" {
			s.dedup[r.Key] = r.Until
		}
	}
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	state := fileState{Profiles: s.profiles, Digests: s.digests, Dedup: s.dedup}
	if err := json.NewEncoder(f).Encode(state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var state fileState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return err
	}
	for k, v := range state.Profiles {
		s.profiles[k] = v
	}
	for k, v := range state.Digests {
		s.digests[k] = v
	}
	for k, v := range state.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.applyRecord(r)
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
