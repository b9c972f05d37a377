package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"workmgr/internal/eventbus"
	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

func submit(t *testing.T, s *Service, j Job) {
	t.Helper()
	if err := s.TrySubmit(j); err != nil {
		t.Fatalf("TrySubmit: %v", err)
	}
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("no outcome")
		return Outcome{}
	}
}

func TestServiceRunsRegisteredWorker(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_ = reg.Register("echo", func(_ context.Context, in work.Data) (work.Data, error) {
		return work.Data{"echo": in["v"]}, nil
	})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeWorkRun)
	defer unsub()

	s := New(Config{Workers: 1}, reg, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan Outcome, 1)
	submit(t, s, Job{ID: "j1", Worker: "echo", Input: work.Data{"v": "x"}, Done: func(o Outcome) { done <- o }})
	o := waitOutcome(t, done)
	if o.Kind != Success || o.Output["echo"] != "x" {
		t.Fatalf("outcome = %+v", o)
	}
	select {
	case ev := <-events:
		re, ok := ev.Data.(RunEvent)
		if !ok || re.ID != "j1" || re.Outcome != "success" {
			t.Fatalf("event = %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no work.run event")
	}
}

func TestServiceUnknownWorkerFails(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, NewRegistry(), logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan Outcome, 1)
	submit(t, s, Job{ID: "j", Worker: "ghost", Done: func(o Outcome) { done <- o }})
	o := waitOutcome(t, done)
	if o.Kind != Failure || !errors.Is(o.Err, ErrUnknownWorker) {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestServiceTrySubmitBusyWhenAllWorkersOccupied(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, nil, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan Outcome, 1)
	submit(t, s, Job{ID: "long", Worker: "long", Fn: func(ctx context.Context, _ work.Data) (work.Data, error) {
		close(started)
		<-release
		return nil, nil
	}, Done: func(o Outcome) { done <- o }})
	<-started

	err := s.TrySubmit(Job{ID: "second", Worker: "x", Fn: func(context.Context, work.Data) (work.Data, error) { return nil, nil }})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("TrySubmit err = %v, want ErrBusy", err)
	}
	if s.InFlight() != 1 {
		t.Fatalf("InFlight = %d", s.InFlight())
	}
	close(release)
	waitOutcome(t, done)
}

func TestServiceDefaultTimeoutIsFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond}, nil, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	done := make(chan Outcome, 1)
	submit(t, s, Job{ID: "slow", Worker: "slow", Fn: func(ctx context.Context, _ work.Data) (work.Data, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Done: func(o Outcome) { done <- o }})
	if o := waitOutcome(t, done); o.Kind != Failure {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestServiceStopCancelsInFlight(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, nil, logx.Nop(), nil, nil)
	s.Start(context.Background())

	started := make(chan struct{})
	done := make(chan Outcome, 1)
	submit(t, s, Job{ID: "blocked", Worker: "blocked", Fn: func(ctx context.Context, _ work.Data) (work.Data, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, Done: func(o Outcome) { done <- o }})
	<-started

	s.Stop(context.Background())
	o := waitOutcome(t, done)
	if o.Kind != Cancelled || !errors.Is(o.Err, ErrStopped) {
		t.Fatalf("outcome = %+v", o)
	}
	if err := s.TrySubmit(Job{ID: "late", Worker: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("TrySubmit after Stop = %v", err)
	}
}

func TestServiceOnIdleFiresAfterEachJob(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, nil, logx.Nop(), nil, nil)
	idle := make(chan struct{}, 4)
	s.OnIdle(func() {
		select {
		case idle <- struct{}{}:
		default:
		}
	})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	noop := func(context.Context, work.Data) (work.Data, error) { return nil, nil }
	submit(t, s, Job{ID: "a", Worker: "noop", Fn: noop})
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle hook not called")
	}
	// The slot is back: a second job is accepted right away.
	submit(t, s, Job{ID: "b", Worker: "noop", Fn: noop})
}
