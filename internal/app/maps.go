package app

import (
	"strings"
	"time"

	"workmgr/internal/config"
	"workmgr/internal/observability/debugsrv"
	"workmgr/internal/runner"
	"workmgr/internal/scheduler"
	"workmgr/internal/storage"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// MapStorageConfig maps the storage section. A missing section is the
// in-memory driver.
func MapStorageConfig(cfg *config.Config) (storage.Config, storage.RetryConfig, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, storage.RetryConfig{}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, storage.RetryConfig{}, err
	}
	base, err := config.ParseDurationField("storage.retry_base", sc.RetryBase)
	if err != nil {
		return storage.Config{}, storage.RetryConfig{}, err
	}
	maxDelay, err := config.ParseDurationField("storage.retry_max_delay", sc.RetryMaxDelay)
	if err != nil {
		return storage.Config{}, storage.RetryConfig{}, err
	}
	st := storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}
	return st, storage.RetryConfig{Max: sc.RetryMax, Base: base, MaxDelay: maxDelay}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	prune, err := config.ParseDurationOrDefault("scheduler.prune_after", cfg.Scheduler.PruneAfter, 24*time.Hour)
	if err != nil {
		return scheduler.Config{}, err
	}
	// An explicit "0s" keeps finished records forever.
	if s := strings.TrimSpace(cfg.Scheduler.PruneAfter); s != "" {
		if d, _ := time.ParseDuration(s); d == 0 {
			prune = 0
		}
	}
	return scheduler.Config{
		PollInterval:   poll,
		EvalRatePerSec: cfg.Scheduler.EvalRatePerSec,
		PruneAfter:     prune,
	}, nil
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	timeout, err := config.ParseDurationField("runner.default_timeout", cfg.Runner.DefaultTimeout)
	if err != nil {
		return runner.Config{}, err
	}
	workers := cfg.Runner.Workers
	if workers <= 0 {
		workers = 2
	}
	return runner.Config{Workers: workers, DefaultTimeout: timeout}, nil
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		Metrics:       d.MetricsEnabled(),
	}
}

// initialEnvironment is the snapshot constraints see before any environment
// source reports. Without an environment section the host is assumed
// connected and not charging.
func initialEnvironment(cfg *config.Config) constraint.Environment {
	ec := cfg.Environment
	if ec == nil {
		return constraint.Environment{Network: constraint.Network{Connected: true}}
	}
	return constraint.Environment{
		Network: constraint.Network{
			Connected: ec.Connected,
			Metered:   ec.Metered,
			Roaming:   ec.Roaming,
		},
		Charging:   ec.Charging,
		BatteryLow: ec.BatteryLow,
	}
}
