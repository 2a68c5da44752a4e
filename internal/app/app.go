package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alertflow/internal/audit"
	"alertflow/internal/channels"
	"alertflow/internal/config"
	"alertflow/internal/dispatch"
	"alertflow/internal/eventbus"
	"alertflow/internal/routing"
	rtsup "alertflow/internal/runtime/supervisor"
	"alertflow/internal/storage"
	logx "alertflow/pkg/logx"
)

// App wires the routing engine together: config manager, logging, storage,
// channel registry, dispatch orchestrator and the periodic digest flusher.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg   *channels.Registry
	inbox *channels.Inbox

	disp    *dispatch.Service
	flusher *dispatch.Flusher
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", effectiveDriver(sc.Driver)))

	if err := seedProfiles(context.Background(), store, cfg.Clients); err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     channels.NewRegistry(),
	}

	if err := a.buildChannels(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rec := audit.NewRecorder(store, bus, log.With(logx.String("comp", "audit")))
	classifier := routing.NewClassifier(mapClassifierConfig(cfg))

	a.disp = dispatch.New(dcfg, dispatch.Deps{
		Store:    store,
		Registry: a.reg,
		Audit:    rec,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "dispatch")),
	}, classifier, routing.NewPolicyTable())

	if cfg.Digest != nil && strings.TrimSpace(cfg.Digest.FlushSchedule) != "" {
		fl, err := dispatch.NewFlusher(a.disp, cfg.Digest.FlushSchedule, cfg.Digest.Timezone,
			log.With(logx.String("comp", "flusher")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.flusher = fl
	}

	return a, nil
}

// Dispatch exposes the orchestrator for embedding callers (intake surfaces,
// operational endpoints).
func (a *App) Dispatch() *dispatch.Service { return a.disp }

// Inbox exposes the in-app silent inbox for read-side surfaces.
func (a *App) Inbox() *channels.Inbox { return a.inbox }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// Mapping must also succeed, or the reload would apply partially.
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if a.disp.Enabled() {
		a.disp.Start(a.sup.Context())
	}
	if a.flusher != nil {
		a.flusher.Start()
	}

	// Lifecycle events at debug level; components publish, nobody depends on it.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				a.applyReload(c, newCfg, sections)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload fans a validated config out to the running components.
// Sections that cannot change live (storage driver, flush schedule) only warn.
func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "digest":
			if a.flusher != nil {
				a.log.Warn("digest flush schedule changes require a restart; window applies live")
			}
		}
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if err := seedProfiles(ctx, a.store, cfg.Clients); err != nil {
		a.log.Warn("client profile update failed", logx.Err(err))
	}

	if err := a.buildChannels(cfg); err != nil {
		a.log.Warn("invalid channels config; keeping previous adapters", logx.Err(err))
	}

	prevEnabled := a.disp.Enabled()
	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		return
	}
	a.disp.Apply(dcfg)
	a.disp.ApplyRouting(routing.NewClassifier(mapClassifierConfig(cfg)))

	if prevEnabled && !dcfg.Enabled {
		a.log.Info("dispatch disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.disp.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && dcfg.Enabled {
		a.log.Info("dispatch enabled via config")
		a.disp.Start(ctx)
	}
}

// buildChannels (re)registers adapters from the channels section. Registration
// replaces any previous adapter for the same channel, so reloads converge.
func (a *App) buildChannels(cfg *config.Config) error {
	if tg := cfg.Channels.Telegram; tg != nil {
		pollTimeout, err := config.ParseDurationOrDefault("channels.telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		ad, err := channels.NewTelegram(channels.TelegramConfig{
			Token:       tg.Token,
			ChatID:      tg.ChatID,
			PollTimeout: pollTimeout,
		}, chatResolver(cfg.Clients), a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.reg.Register(routing.ChannelTeamChat, ad, 0)
	} else {
		a.reg.Unregister(routing.ChannelTeamChat)
	}

	seen := map[routing.Channel]bool{}
	for name, spec := range cfg.Channels.Webhooks {
		ch := routing.ParseChannel(name)
		if !ch.Valid() {
			return fmt.Errorf("channels.webhooks: unknown channel %q", name)
		}
		timeout, err := config.ParseDurationOrDefault("channels.webhooks."+name+".timeout", spec.Timeout, 10*time.Second)
		if err != nil {
			return err
		}
		wh, err := channels.NewWebhook(channels.WebhookConfig{
			Name:    name,
			URL:     spec.URL,
			Token:   spec.Token,
			Timeout: timeout,
		})
		if err != nil {
			return err
		}
		a.reg.Register(ch, wh, spec.RatePerSec)
		seen[ch] = true
	}
	for _, ch := range []routing.Channel{routing.ChannelEmailDigest, routing.ChannelUrgentText, routing.ChannelUrgentVoice} {
		if !seen[ch] && a.reg.Has(ch) {
			a.reg.Unregister(ch)
		}
	}

	// The silent inbox is always available; without it the least intrusive
	// tier would fail permanently.
	if a.inbox == nil {
		size := 0
		if cfg.Channels.InApp != nil {
			size = cfg.Channels.InApp.BufferSize
		}
		a.inbox = channels.NewInbox(size)
		a.reg.Register(routing.ChannelInAppSilent, a.inbox, 0)
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	if a.flusher != nil {
		step("flusher", 2*time.Second, func(c context.Context) error { a.flusher.Stop(c); return nil })
	}
	step("dispatch", 6*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// seedProfiles pushes configured client quiet hours into the store. Existing
// profiles keep their LastNotified stamp and pending digest.
func seedProfiles(ctx context.Context, store storage.Store, clients []config.ClientConfig) error {
	for _, c := range clients {
		p, err := store.GetProfile(ctx, c.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
		p.ClientID = c.ID
		p.Quiet = routing.QuietHours{
			Enabled:   c.QuietEnabled,
			StartHour: c.QuietStartHour,
			EndHour:   c.QuietEndHour,
		}
		if err := store.PutProfile(ctx, p); err != nil {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
	}
	return nil
}

func chatResolver(clients []config.ClientConfig) channels.ChatResolver {
	chats := make(map[string]int64, len(clients))
	for _, c := range clients {
		if c.TelegramChatID != 0 {
			chats[c.ID] = c.TelegramChatID
		}
	}
	return func(clientID string) int64 { return chats[clientID] }
}

func effectiveDriver(driver string) string {
	if strings.TrimSpace(driver) == "" {
		return "memory"
	}
	return driver
}
