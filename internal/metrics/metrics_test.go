package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"workmgr/internal/work"
)

func TestMetricsRecordAndServe(t *testing.T) {
	t.Parallel()
	m := New()
	m.Transition(work.Running)
	m.Transition(work.Running)
	m.Transition(work.Succeeded)
	m.ObserveRun("one_time_request", "success", 20*time.Millisecond)
	m.StoreRetry("put")
	m.SetRecordCounts(map[work.State]int{work.Enqueued: 3})
	m.Pass()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`workmgr_runs_total{outcome="success",worker="one_time_request"} 1`,
		`workmgr_store_retries_total{op="put"} 1`,
		`workmgr_state_transitions_total{state="running"} 2`,
		`workmgr_records{state="enqueued"} 3`,
		`workmgr_records{state="blocked"} 0`,
		"workmgr_scheduler_passes_total 1",
		"workmgr_run_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.Transition(work.Failed)
	m.ObserveRun("w", "failure", time.Second)
	m.StoreRetry("get")
	m.SetRecordCounts(nil)
	m.Pass()
	if m.Registry() != nil {
		t.Fatal("nil metrics has a registry")
	}
}
