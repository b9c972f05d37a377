package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string found at path in the config.
// Empty means 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for empty/zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks cross-field rules that the JSON decoder cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.prune_after", cfg.Scheduler.PruneAfter); err != nil {
		return err
	}
	if cfg.Scheduler.EvalRatePerSec < 0 {
		return fmt.Errorf("scheduler.eval_rate_per_sec must be >= 0")
	}
	if cfg.Runner.Workers < 0 {
		return fmt.Errorf("runner.workers must be >= 0")
	}
	if _, err := ParseDurationField("runner.default_timeout", cfg.Runner.DefaultTimeout); err != nil {
		return err
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "memory", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", st.Driver)
		}
		for path, raw := range map[string]string{
			"storage.busy_timeout":    st.BusyTimeout,
			"storage.retry_base":      st.RetryBase,
			"storage.retry_max_delay": st.RetryMaxDelay,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
		if st.RetryMax < 0 {
			return fmt.Errorf("storage.retry_max must be >= 0")
		}
	}
	return nil
}
