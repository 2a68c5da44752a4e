package app

import (
	"time"

	"alertflow/internal/config"
	"alertflow/internal/dispatch"
	"alertflow/internal/routing"
	"alertflow/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := config.DefaultDispatch()
	if cfg.Dispatch != nil {
		d = *cfg.Dispatch
	}

	retryBase, err := config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("dispatch.dedup_window", d.DedupWindow, time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	drainTimeout, err := config.ParseDurationOrDefault("dispatch.drain_timeout", d.DrainTimeout, 5*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}

	digestWindowStr := ""
	if cfg.Digest != nil {
		digestWindowStr = cfg.Digest.Window
	}
	digestWindow, err := config.ParseDurationOrDefault("digest.window", digestWindowStr, time.Hour)
	if err != nil {
		return dispatch.Config{}, err
	}

	return dispatch.Config{
		Enabled:         d.Enabled,
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: d.DedupMaxEntries,
		PersistDedup:    d.PersistDedup,
		DigestWindow:    digestWindow,
		HistorySize:     d.HistorySize,
		DrainTimeout:    drainTimeout,
	}, nil
}

func mapClassifierConfig(cfg *config.Config) routing.ClassifierConfig {
	c := routing.DefaultClassifierConfig()
	if cfg.Routing != nil && cfg.Routing.CriticalImpactThreshold > 0 {
		c.CriticalImpactThreshold = cfg.Routing.CriticalImpactThreshold
	}
	return c
}
