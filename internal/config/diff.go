package config

import (
	"reflect"
	"sort"
	"strings"

	logx "workmgr/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like the debug token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.Int("scheduler.eval_rate_per_sec", newCfg.Scheduler.EvalRatePerSec),
			logx.String("scheduler.prune_after", strings.TrimSpace(newCfg.Scheduler.PruneAfter)),
		)
	}

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.String("runner.default_timeout", strings.TrimSpace(newCfg.Runner.DefaultTimeout)),
		)
	}

	// Nil storage means the default driver.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Int("storage.retry_max", nS.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Environment, newCfg.Environment) {
		changed = append(changed, "environment")
		fileSet := newCfg.Environment != nil && strings.TrimSpace(newCfg.Environment.File) != ""
		attrs = append(attrs, logx.Bool("environment.file_set", fileSet))
	}

	oD, nD := oldCfg.Debug, newCfg.Debug
	if oD.Enabled != nD.Enabled ||
		strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		oD.AllowInsecure != nD.AllowInsecure ||
		oD.MetricsEnabled() != nD.MetricsEnabled() ||
		oD.Token != nD.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
			logx.Bool("debug.metrics", nD.MetricsEnabled()),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// MetricsEnabled reports the effective metrics flag (default true).
func (d DebugConfig) MetricsEnabled() bool {
	if d.Metrics == nil {
		return true
	}
	return *d.Metrics
}

// RestartRequired reports whether any of the changed sections can only take
// effect after a process restart.
func RestartRequired(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "scheduler", "runner", "storage", "environment":
			return true
		}
	}
	return false
}
