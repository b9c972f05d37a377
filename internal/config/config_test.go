package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  poll_interval: 30s
  prune_after: 0s
runner:
  workers: 4
storage:
  driver: sqlite
  path: ./data/work.db
  retry_max: 5
environment:
  connected: true
  charging: false
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("workd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Runner.Workers != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" || cfg.Storage.RetryMax != 5 {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Environment == nil || !cfg.Environment.Connected {
		t.Fatalf("unexpected environment: %+v", cfg.Environment)
	}
	if !cfg.Debug.MetricsEnabled() {
		t.Fatalf("metrics should default to enabled")
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("workd.json", []byte(`{"logging":{},"bogus":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("workd.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := Decode("workd.json", []byte(`{"scheduler":{"poll_interval":"soon"}}`)); err == nil {
		t.Fatal("expected invalid duration error")
	}
	if _, err := Decode("workd.json", []byte(`{"storage":{"driver":"postgres"}}`)); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workd.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if changed, err := m.Reload(); err != nil || changed {
		t.Fatalf("Reload unchanged = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err := m.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload changed = %v, %v", changed, err)
	}
	got := <-ch
	if got.Logging.Level != "debug" || m.Get().Logging.Level != "debug" {
		t.Fatalf("published config not updated: %+v", got.Logging)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Runner: RunnerConfig{Workers: 3}, Debug: DebugConfig{Token: "secret"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"debug", "logging", "runner"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if !RestartRequired(changed) {
		t.Fatal("runner change should require restart")
	}
	if RestartRequired([]string{"logging", "debug"}) {
		t.Fatal("logging/debug changes are hot reloadable")
	}
}
