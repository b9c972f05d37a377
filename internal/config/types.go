package config

// Config is the on-disk configuration of workd (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Scheduler   SchedulerConfig    `json:"scheduler"`
	Runner      RunnerConfig       `json:"runner"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Environment *EnvironmentConfig `json:"environment,omitempty"`
	Debug       DebugConfig        `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls constraint re-evaluation and housekeeping.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1m"
//   - eval_rate_per_sec: 20
//   - prune_after: "24h" ("0s" keeps finished work forever)
type SchedulerConfig struct {
	PollInterval   string `json:"poll_interval,omitempty"`
	EvalRatePerSec int    `json:"eval_rate_per_sec,omitempty"`
	PruneAfter     string `json:"prune_after,omitempty"`
}

// RunnerConfig controls the execution worker pool.
//
// default_timeout is "0s" (disabled) unless set: the scheduler does not impose
// a timeout on work functions by itself.
type RunnerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// StorageConfig controls the durable work store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/work.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// EnvironmentConfig seeds the environment snapshot and optionally points at a
// file that is watched for changes (JSON or YAML).
type EnvironmentConfig struct {
	File       string `json:"file,omitempty"`
	Connected  bool   `json:"connected"`
	Metered    bool   `json:"metered,omitempty"`
	Roaming    bool   `json:"roaming,omitempty"`
	Charging   bool   `json:"charging"`
	BatteryLow bool   `json:"battery_low,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof + prometheus).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	Metrics       *bool  `json:"metrics,omitempty"` // default: true
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
