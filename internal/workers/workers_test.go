package workers

import (
	"context"
	"testing"
	"time"

	"workmgr/internal/runner"
	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

func TestOneTimeReturnsOutput(t *testing.T) {
	t.Parallel()
	out, err := OneTime(logx.Nop())(context.Background(), work.Data{"inputKey": "Input Value"})
	if err != nil {
		t.Fatalf("OneTime error: %v", err)
	}
	if out["outputKey"] != "Output Value" {
		t.Fatalf("output = %v", out)
	}
}

func TestWorkersHonorCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := OneTime(logx.Nop())(ctx, nil); err == nil {
		t.Fatal("OneTime ran with a cancelled context")
	}
	if _, err := Periodic(logx.Nop(), nil)(ctx, nil); err == nil {
		t.Fatal("Periodic ran with a cancelled context")
	}
}

func TestFormatRunTime(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 7, 14, 5, 9, 42*int(time.Millisecond), time.UTC)
	if got, want := FormatRunTime(ts), "07/03/2024 02:05:09.042"; got != want {
		t.Fatalf("FormatRunTime = %q, want %q", got, want)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	reg := runner.NewRegistry()
	if err := Register(reg, logx.Nop()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, name := range []string{OneTimeName, PeriodicName} {
		if _, ok := reg.Lookup(name); !ok {
			t.Fatalf("%s not registered", name)
		}
	}
	if err := Register(reg, logx.Nop()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestDemoRequestsAreValid(t *testing.T) {
	t.Parallel()
	one, err := DemoOneTime().Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if one.Constraints.RequiredNetwork != work.NetworkConnected || one.Input["inputKey"] != "Input Value" {
		t.Fatalf("one-time demo = %+v", one)
	}
	p, err := DemoPeriodic().Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if p.UniqueName != PeriodicUniqueName || p.Interval != 15*time.Minute {
		t.Fatalf("periodic demo = %+v", p)
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state work.State
		want  string
	}{
		{work.Enqueued, "Task enqueued."},
		{work.Blocked, "Task blocked."},
		{work.Running, "Task running."},
		{work.Succeeded, "Task successful."},
		{work.Failed, "Task Failed."},
		{work.Cancelled, "Task cancelled."},
	}
	for _, tt := range tests {
		if got := StatusText(tt.state); got != tt.want {
			t.Errorf("StatusText(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
