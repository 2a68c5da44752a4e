// Package dispatch sequences the routing pipeline: classify severity, resolve
// the channel plan, apply quiet hours and the anti-fatigue batcher, then fan
// out to channel adapters with retry and fallback. Every processed event
// produces exactly one audited DispatchDecision.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"alertflow/internal/audit"
	"alertflow/internal/channels"
	"alertflow/internal/eventbus"
	"alertflow/internal/routing"
	rtsup "alertflow/internal/runtime/supervisor"
	"alertflow/internal/storage"
	logx "alertflow/pkg/logx"
)

type job struct {
	ev routing.NotificationEvent
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Deps are the orchestrator's injected collaborators. All side effects flow
// through them; the routing components themselves stay pure.
type Deps struct {
	Store    storage.Store
	Registry *channels.Registry
	Audit    *audit.Recorder
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Service is the dispatch orchestrator: intake queue + worker pool + per-client
// serialization + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	store storage.Store
	reg   *channels.Registry
	audit *audit.Recorder
	bus   eventbus.Bus

	classifier *routing.Classifier
	policy     *routing.PolicyTable

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: event id -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Optional persistent dedup writes (best-effort)
	persistCh chan dedupWrite

	clients *clientLocks

	// Recently delivered notifications.
	hmu     sync.Mutex
	history []HistoryItem

	// now is a test seam.
	now func() time.Time
}

func New(cfg Config, deps Deps, classifier *routing.Classifier, policy *routing.PolicyTable) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if classifier == nil {
		classifier = routing.NewClassifier(routing.DefaultClassifierConfig())
	}
	if policy == nil {
		policy = routing.NewPolicyTable()
	}
	s := &Service{
		log:        log,
		store:      deps.Store,
		reg:        deps.Registry,
		audit:      deps.Audit,
		bus:        deps.Bus,
		classifier: classifier,
		policy:     policy,
		dedup:      map[string]time.Time{},
		clients:    newClientLocks(),
		now:        time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply installs a new runtime config. Queue size and worker count take
// effect on the next Start; everything else applies immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// ApplyRouting swaps the classifier used for subsequent events.
func (s *Service) ApplyRouting(classifier *routing.Classifier) {
	if classifier == nil {
		return
	}
	s.mu.Lock()
	s.classifier = classifier
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.DigestWindow <= 0 {
		cfg.DigestWindow = time.Hour
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "dispatch"))),
		// Delivery failures must not take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	pch := s.persistCh
	st := s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			if s.stopping() {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("dispatch persist loop exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			if s.stopping() {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("dispatch worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	st := s.stopDone != nil
	s.mu.Unlock()
	return st
}

// Stop blocks intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	pch := s.persistCh
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		if pch != nil {
			func() {
				defer func() { _ = recover() }()
				close(pch)
			}()
		}
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop internal loops.
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Enqueue accepts an event for async processing. A missing id or timestamp is
// filled in here; intake never blocks (a full queue is reported back to the
// producer instead).
func (s *Service) Enqueue(ctx context.Context, ev routing.NotificationEvent) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{ev: ev}:
		s.publish(eventbus.TypeQueued, routing.DispatchDecision{
			EventID: ev.ID, ClientID: ev.ClientID, At: s.now(),
		})
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.Process(ctx, j.ev)
		}
	}
}

// Process runs the full pipeline for one event and returns its decision.
// The decision is always recorded to the audit ledger before returning.
func (s *Service) Process(ctx context.Context, ev routing.NotificationEvent) routing.DispatchDecision {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	classifier := s.classifier
	policy := s.policy
	s.mu.Unlock()

	now := s.now()
	sev, known := classifier.Classify(ev)
	if !known {
		s.log.Warn("unrecognized event source; routing to silent path",
			logx.String("source", ev.Source), logx.String("event_id", ev.ID))
	}

	d := routing.DispatchDecision{
		EventID:  ev.ID,
		ClientID: ev.ClientID,
		Severity: sev,
		At:       now,
	}

	// Replay suppression by event id. The duplicate is still audited: one
	// audit record per processing attempt.
	if cfg.DedupWindow > 0 && ev.ID != "" && !s.dedupAllow(ctx, ev.ID, cfg) {
		d.Outcome = routing.OutcomeDuplicate
		d.Reason = "event id already processed"
		s.finish(ctx, d, eventbus.TypeDeduped)
		return d
	}

	plan := policy.Resolve(ev, sev)

	unlock := s.clients.lock(ev.ClientID)
	defer unlock()

	profile, perr := s.store.GetProfile(ctx, ev.ClientID)
	switch {
	case perr == nil:
	case errors.Is(perr, storage.ErrNotFound):
		profile, perr = storage.ClientProfile{ClientID: ev.ClientID}, nil
	default:
		// Preference store down: fail safe toward over-notifying. Critical
		// and High proceed as if no quiet hours were configured; the rest is
		// deferred to a best-effort digest.
		if sev >= routing.SeverityHigh {
			s.log.Warn("profile load failed; proceeding without quiet hours",
				logx.Any("err", perr), logx.String("client_id", ev.ClientID))
			profile = storage.ClientProfile{ClientID: ev.ClientID}
		} else {
			_ = s.store.AppendDigest(ctx, ev.ClientID, digestItemFromEvent(ev, now))
			d.Outcome = routing.OutcomeDeferred
			d.Reason = audit.Reason("preference store unavailable", "deferred to best-effort digest")
			d.Error = perr.Error()
			s.finish(ctx, d, eventbus.TypeDeferred)
			return d
		}
	}

	var (
		msg     channels.Message
		reasons []string
		stamped bool

		// claimed holds digest items taken from the store by a lazy flush so
		// they can be restored if nothing gets delivered.
		claimed      []storage.DigestItem
		prevNotified time.Time
	)
	if plan.Rule != "" {
		reasons = append(reasons, "override "+plan.Rule)
	}

	if sev != routing.SeverityCritical {
		// Quiet hours defer everything below Critical.
		if profile.Quiet.Contains(now) {
			if err := s.store.AppendDigest(ctx, ev.ClientID, digestItemFromEvent(ev, now)); err != nil {
				d.Error = err.Error()
			}
			d.Outcome = routing.OutcomeDeferred
			d.Reason = audit.Reason(append(reasons, "quiet hours")...)
			s.finish(ctx, d, eventbus.TypeDeferred)
			return d
		}

		// Anti-fatigue: one delivery per client per rolling window.
		windowOpen := profile.LastNotified.IsZero() || now.Sub(profile.LastNotified) >= cfg.DigestWindow
		if !windowOpen {
			if err := s.store.AppendDigest(ctx, ev.ClientID, digestItemFromEvent(ev, now)); err != nil {
				d.Error = err.Error()
			}
			d.Outcome = routing.OutcomeDeferred
			d.Reason = audit.Reason(append(reasons, "rate window active")...)
			s.finish(ctx, d, eventbus.TypeDeferred)
			return d
		}

		// Window open with a pending digest: claim it atomically (FlushDigest
		// also stamps LastNotified) and roll this event into one aggregate.
		if profile.PendingCount > 0 {
			items, ferr := s.store.FlushDigest(ctx, ev.ClientID, now)
			if ferr != nil {
				s.log.Warn("digest flush failed; delivering event alone",
					logx.Any("err", ferr), logx.String("client_id", ev.ClientID))
			} else if len(items) > 0 {
				claimed = items
				prevNotified = profile.LastNotified
				items = append(items, digestItemFromEvent(ev, now))
				plan.Aggregate = true
				msg = channels.Message{
					Text:      formatDigest(items, now),
					Aggregate: true,
					Count:     digestCount(items),
				}
				stamped = true
				reasons = append(reasons, fmt.Sprintf("digest flush: %d accumulated", digestCount(items)-1))
			}
		}
	}

	if msg.Text == "" {
		count := ev.BatchedCount
		if count < 1 {
			count = 1
		}
		msg = channels.Message{
			Text:      ev.Message,
			Decision:  plan.Decision,
			Aggregate: plan.Aggregate,
			Count:     count,
		}
	}

	delivered, notes, lastErr := s.deliverPlan(ctx, cfg, ev.ClientID, sev, plan.Channels, msg)
	reasons = append(reasons, notes...)

	if len(delivered) > 0 {
		d.Outcome = routing.OutcomeDelivered
		d.Channels = delivered
		d.Reason = audit.Reason(reasons...)
		if lastErr != nil {
			// Partial: some channels fired, some did not.
			d.Error = lastErr.Error()
		}
		// Critical deliveries bypass the fatigue budget and don't consume it.
		if sev != routing.SeverityCritical && !stamped {
			if err := s.store.UpdateLastNotified(ctx, ev.ClientID, now); err != nil {
				s.log.Warn("last-notified update failed", logx.Any("err", err),
					logx.String("client_id", ev.ClientID))
			}
		}
		s.appendHistory(HistoryItem{
			At:       now,
			ClientID: ev.ClientID,
			Channels: routing.ChannelNames(delivered),
			Text:     msg.Text,
		}, cfg.HistorySize)
		s.finish(ctx, d, eventbus.TypeDelivered)
		return d
	}

	// A lazy flush claimed the pending digest; nothing went out, so put the
	// accumulated items back and reopen the window for the next attempt.
	if stamped && len(claimed) > 0 {
		s.restoreDigest(ctx, ev.ClientID, claimed, prevNotified)
		reasons = append(reasons, "pending digest restored")
	}

	d.Outcome = routing.OutcomeFailed
	d.Channels = plan.Channels
	d.Reason = audit.Reason(append(reasons, "all delivery paths exhausted")...)
	if lastErr != nil {
		d.Error = lastErr.Error()
	}
	s.finish(ctx, d, eventbus.TypeFailed)
	return d
}

// deliverPlan invokes every planned channel. Multi-channel plans (Critical)
// fire concurrently to minimize time-to-notify.
func (s *Service) deliverPlan(ctx context.Context, cfg Config, clientID string, sev routing.Severity, chs []routing.Channel, msg channels.Message) (delivered []routing.Channel, notes []string, lastErr error) {
	if len(chs) == 0 {
		return nil, nil, errors.New("empty channel plan")
	}

	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	if len(chs) == 1 {
		got, note, err := s.sendChannel(ctx, cfg, sev, chs[0], clientID, msg)
		if err != nil {
			return nil, nil, err
		}
		if note != "" {
			notes = append(notes, note)
		}
		return []routing.Channel{got}, notes, nil
	}

	type result struct {
		ch   routing.Channel
		note string
		err  error
	}
	results := make([]result, len(chs))
	var wg sync.WaitGroup
	for i, ch := range chs {
		wg.Add(1)
		go func(i int, ch routing.Channel) {
			defer wg.Done()
			got, note, err := s.sendChannel(ctx, cfg, sev, ch, clientID, msg)
			results[i] = result{ch: got, note: note, err: err}
		}(i, ch)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			lastErr = r.err
			continue
		}
		delivered = append(delivered, r.ch)
		if r.note != "" {
			notes = append(notes, r.note)
		}
	}
	return delivered, notes, lastErr
}

// sendChannel attempts one channel with retries; for Critical severity an
// exhausted channel falls back down the intrusiveness ladder.
func (s *Service) sendChannel(ctx context.Context, cfg Config, sev routing.Severity, ch routing.Channel, clientID string, msg channels.Message) (routing.Channel, string, error) {
	cur := ch
	for {
		err := s.attempt(ctx, cfg, cur, clientID, msg)
		if err == nil {
			if cur != ch {
				return cur, "fallback " + ch.String() + "→" + cur.String(), nil
			}
			return cur, "", nil
		}
		if sev != routing.SeverityCritical {
			return cur, "", err
		}
		next := cur.NextLessIntrusive()
		if next == 0 {
			return cur, "", err
		}
		s.log.Warn("channel exhausted; falling back",
			logx.String("channel", cur.String()),
			logx.String("fallback", next.String()),
			logx.String("client_id", clientID),
			logx.Any("err", err))
		cur = next
	}
}

// attempt is one channel delivery with bounded transient retries.
func (s *Service) attempt(ctx context.Context, cfg Config, ch routing.Channel, clientID string, msg channels.Message) error {
	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.reg.Deliver(callCtx, ch, clientID, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("delivery attempt failed",
			logx.String("channel", ch.String()),
			logx.Any("err", err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if channels.IsPermanent(err) || attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return lastErr
		}
	}
	return lastErr
}

// restoreDigest puts claimed digest items back into the client's pending
// digest and rewinds the fatigue stamp after a failed aggregate delivery, so
// suppressed events survive for the next flush instead of being discarded.
// Caller holds the client lock.
func (s *Service) restoreDigest(ctx context.Context, clientID string, items []storage.DigestItem, notifiedAt time.Time) {
	for _, it := range items {
		if err := s.store.AppendDigest(ctx, clientID, it); err != nil {
			s.log.Error("digest restore failed; item lost",
				logx.Any("err", err),
				logx.String("client_id", clientID),
				logx.String("event_id", it.EventID))
		}
	}
	if err := s.store.UpdateLastNotified(ctx, clientID, notifiedAt); err != nil {
		s.log.Warn("last-notified rewind failed",
			logx.Any("err", err), logx.String("client_id", clientID))
	}
}

// FlushClient emits a client's pending digest as one aggregated email-digest
// notification when the rolling window has elapsed. Used by the periodic
// flusher; safe to call concurrently with event processing.
func (s *Service) FlushClient(ctx context.Context, clientID string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	unlock := s.clients.lock(clientID)
	defer unlock()

	now := s.now()
	profile, err := s.store.GetProfile(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if profile.PendingCount == 0 {
		return false, nil
	}
	if !profile.LastNotified.IsZero() && now.Sub(profile.LastNotified) < cfg.DigestWindow {
		return false, nil
	}
	// Quiet hours still hold the digest; it flushes on the first sweep after
	// the window opens.
	if profile.Quiet.Contains(now) {
		return false, nil
	}

	prevNotified := profile.LastNotified

	items, err := s.store.FlushDigest(ctx, clientID, now)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}

	msg := channels.Message{
		Text:      formatDigest(items, now),
		Aggregate: true,
		Count:     digestCount(items),
	}
	d := routing.DispatchDecision{
		EventID:  "digest:" + uuid.NewString(),
		ClientID: clientID,
		Severity: routing.SeverityMedium,
		At:       now,
	}

	delivered, notes, lastErr := s.deliverPlan(ctx, cfg, clientID, routing.SeverityMedium,
		[]routing.Channel{routing.ChannelEmailDigest}, msg)
	reasons := append([]string{fmt.Sprintf("scheduled digest flush: %d accumulated", digestCount(items))}, notes...)

	if len(delivered) > 0 {
		d.Outcome = routing.OutcomeDelivered
		d.Channels = delivered
		d.Reason = audit.Reason(reasons...)
		s.appendHistory(HistoryItem{
			At:       now,
			ClientID: clientID,
			Channels: routing.ChannelNames(delivered),
			Text:     msg.Text,
		}, cfg.HistorySize)
		s.finish(ctx, d, eventbus.TypeDigest)
		return true, nil
	}

	// Nothing went out: put the claimed items back and reopen the window so
	// the next sweep retries the whole digest.
	s.restoreDigest(ctx, clientID, items, prevNotified)

	d.Outcome = routing.OutcomeFailed
	d.Channels = []routing.Channel{routing.ChannelEmailDigest}
	d.Reason = audit.Reason(append(reasons, "all delivery paths exhausted", "pending digest restored")...)
	if lastErr != nil {
		d.Error = lastErr.Error()
	}
	s.finish(ctx, d, eventbus.TypeFailed)
	return false, lastErr
}

func (s *Service) finish(ctx context.Context, d routing.DispatchDecision, busType string) {
	if s.audit != nil {
		s.audit.Record(ctx, d)
	}
	s.publish(busType, d)
}

func (s *Service) publish(typ string, d routing.DispatchDecision) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: d})
}

// Snapshot returns the recent delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if max > 0 && len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ch == nil || st == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			_ = st.PutDedup(cctx, w.key, w.until)
			cancel()
		}
	}
}

// dedupAllow reports whether the event id may proceed and, if so, opens a new
// suppression window for it.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config) bool {
	now := s.now()

	// 1) In-memory check.
	s.dmu.Lock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// 2) Persistent check (best-effort) for cross-restart dedup.
	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	// 3) Allow and open a new window.
	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	if cfg.DedupMaxEntries > 0 && len(s.dedup) > cfg.DedupMaxEntries {
		// Remove entries with earliest expiry until within cap.
		for len(s.dedup) > cfg.DedupMaxEntries {
			var (
				minKey string
				minT   time.Time
				set    bool
			)
			for k, u := range s.dedup {
				if !set || u.Before(minT) {
					minKey, minT, set = k, u, true
				}
			}
			if minKey == "" {
				break
			}
			delete(s.dedup, minKey)
		}
	}
	s.dmu.Unlock()

	// 4) Persist the new suppress-until asynchronously (best-effort).
	s.mu.Lock()
	pch := s.persistCh
	s.mu.Unlock()
	if cfg.PersistDedup && s.store != nil && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}
