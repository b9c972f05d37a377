package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workmgr/internal/observe"
	"workmgr/internal/storage"
	"workmgr/internal/work"
	"workmgr/internal/work/constraint"
)

func TestOneTimeSuccessRunsExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var calls atomic.Int32
	h.register("one_time_request", func(_ context.Context, in work.Data) (work.Data, error) {
		calls.Add(1)
		if in["inputKey"] != "Input Value" {
			return nil, errors.New("missing input")
		}
		return work.Data{"outputKey": "Output Value"}, nil
	})

	id := h.enqueue(work.NewOneTime("one_time_request", work.Data{"inputKey": "Input Value"}, work.Constraints{}))
	rec := h.waitState(id, work.Succeeded)
	if rec.Output["outputKey"] != "Output Value" {
		t.Fatalf("output = %v", rec.Output)
	}

	// More passes must not run it again.
	for i := 0; i < 5; i++ {
		h.s.Wake()
		time.Sleep(5 * time.Millisecond)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("work ran %d times", n)
	}
	stored, err := h.store.Get(context.Background(), id)
	if err != nil || stored.State != work.Succeeded || stored.Output["outputKey"] != "Output Value" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestOneTimeFailureIsTerminal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var calls atomic.Int32
	h.register("flaky", func(context.Context, work.Data) (work.Data, error) {
		calls.Add(1)
		return nil, errors.New("upstream down")
	})

	id := h.enqueue(work.NewOneTime("flaky", nil, work.Constraints{}))
	rec := h.waitState(id, work.Failed)
	if rec.LastError != "upstream down" || rec.Output != nil {
		t.Fatalf("record = %+v", rec)
	}
	h.s.Wake()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("failed one-time work retried: %d calls", calls.Load())
	}
}

func TestPanickingWorkFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("bad", func(context.Context, work.Data) (work.Data, error) { panic("nil map") })
	id := h.enqueue(work.NewOneTime("bad", nil, work.Constraints{}))
	rec := h.waitState(id, work.Failed)
	if rec.LastError == "" {
		t.Fatal("panic not recorded")
	}
}

func TestUnknownWorkerFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.enqueue(work.NewOneTime("nobody", nil, work.Constraints{}))
	h.waitState(id, work.Failed)
}

func TestPeriodicFailureReenqueuesWithAdvancedEligibility(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("periodic_request", func(context.Context, work.Data) (work.Data, error) {
		return nil, errors.New("no network")
	})

	start := h.clock.Now()
	id := h.enqueue(work.NewPeriodic("periodic_request", 15*time.Minute, work.Constraints{}))
	rec := h.waitRecord(id, "one failed attempt", func(r work.Record) bool {
		return r.RunAttemptCount == 1 && r.State == work.Enqueued
	})
	if want := start.Add(15 * time.Minute); !rec.NextEligibleAt.Equal(want) {
		t.Fatalf("NextEligibleAt = %v, want %v", rec.NextEligibleAt, want)
	}
	if rec.LastError != "no network" {
		t.Fatalf("LastError = %q", rec.LastError)
	}

	// Not due yet: further passes leave it alone.
	h.s.Wake()
	time.Sleep(20 * time.Millisecond)
	if got, _ := h.s.GetRecord(context.Background(), id); got.RunAttemptCount != 1 || got.State != work.Enqueued {
		t.Fatalf("ran before due: %+v", got)
	}

	// Once due it runs again and the attempt count keeps growing.
	h.clock.Advance(15 * time.Minute)
	h.s.Wake()
	h.waitRecord(id, "second failed attempt", func(r work.Record) bool { return r.RunAttemptCount == 2 })
}

func TestPeriodicSuccessResetsAttemptsAndNeverFinishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var fail atomic.Bool
	fail.Store(true)
	h.register("tick", func(context.Context, work.Data) (work.Data, error) {
		if fail.Load() {
			return nil, errors.New("first run fails")
		}
		return work.Data{"ignored": "yes"}, nil
	})

	id := h.enqueue(work.NewPeriodic("tick", time.Hour, work.Constraints{}))
	h.waitRecord(id, "failed once", func(r work.Record) bool { return r.RunAttemptCount == 1 })

	fail.Store(false)
	h.clock.Advance(time.Hour)
	h.s.Wake()
	rec := h.waitRecord(id, "success", func(r work.Record) bool {
		return r.RunAttemptCount == 0 && r.State == work.Enqueued && r.LastError == ""
	})
	if !rec.NextEligibleAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("NextEligibleAt = %v", rec.NextEligibleAt)
	}
	if rec.Output != nil {
		t.Fatalf("periodic record kept output %v", rec.Output)
	}
}

func TestPeriodicIntervalIsClamped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("p", func(context.Context, work.Data) (work.Data, error) { return nil, nil })
	id := h.enqueue(work.NewPeriodic("p", 5*time.Millisecond, work.Constraints{}))
	rec, err := h.s.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Request.Interval != work.MinPeriodicInterval {
		t.Fatalf("Interval = %v, want %v", rec.Request.Interval, work.MinPeriodicInterval)
	}
}

func TestKeepReturnsLiveID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("p", func(context.Context, work.Data) (work.Data, error) { return nil, nil })

	req := work.NewPeriodic("p", 15*time.Minute, work.Constraints{})
	req.UniqueName = "Periodic Work Request"
	id1, err := h.s.EnqueueUnique(context.Background(), req, work.Keep)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := h.s.EnqueueUnique(context.Background(), req, work.Keep)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("Keep created a second record: %s vs %s", id1, id2)
	}
	// Plain Enqueue with a unique name behaves like Keep.
	if id3 := h.enqueue(req); id3 != id1 {
		t.Fatalf("Enqueue with unique name created %s", id3)
	}

	n := 0
	for _, r := range h.s.Records() {
		if r.UniqueName == req.UniqueName {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%d records named %q", n, req.UniqueName)
	}
}

func TestKeepIsAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("p", func(context.Context, work.Data) (work.Data, error) { return nil, nil })

	req := work.NewPeriodic("p", time.Hour, work.Constraints{})
	req.UniqueName = "sync"
	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := h.s.EnqueueUnique(context.Background(), req, work.Keep)
			if err != nil {
				t.Error(err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent Keep returned different ids: %v", ids)
		}
	}
}

func TestReplaceCancelsLiveRecord(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	started := make(chan struct{}, 1)
	var causes sync.Map
	h.register("long", func(ctx context.Context, in work.Data) (work.Data, error) {
		started <- struct{}{}
		<-ctx.Done()
		causes.Store(in["n"], context.Cause(ctx))
		return nil, ctx.Err()
	})

	req := work.NewOneTime("long", work.Data{"n": "1"}, work.Constraints{})
	req.UniqueName = "upload"
	oldID, err := h.s.EnqueueUnique(context.Background(), req, work.Replace)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	h.waitState(oldID, work.Running)

	req.Input = work.Data{"n": "2"}
	newID, err := h.s.EnqueueUnique(context.Background(), req, work.Replace)
	if err != nil {
		t.Fatal(err)
	}
	if newID == oldID {
		t.Fatal("Replace returned the old id")
	}
	h.waitState(oldID, work.Cancelled)
	h.waitState(newID, work.Running)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, ok := causes.Load("1"); ok {
			if !errors.Is(c.(error), ErrReplaced) {
				t.Fatalf("old run cause = %v", c)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("old run not interrupted")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestReplaceKeepsLiveRecordWhenStoreFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withoutRunner())

	req := work.NewOneTime("sync", nil, work.Constraints{})
	req.UniqueName = "X"
	oldID, err := h.s.EnqueueUnique(context.Background(), req, work.Keep)
	if err != nil {
		t.Fatal(err)
	}

	h.store.fail.Store(true)
	if _, err := h.s.EnqueueUnique(context.Background(), req, work.Replace); !errors.Is(err, errDiskFull) {
		t.Fatalf("Replace err = %v, want disk full", err)
	}
	h.store.fail.Store(false)

	if st, _ := h.s.GetState(context.Background(), oldID); st != work.Enqueued {
		t.Fatalf("old record state = %s, want enqueued", st)
	}
	live := 0
	for _, r := range h.s.Records() {
		if r.UniqueName == "X" && !r.Finished() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live records named X = %d, want 1", live)
	}
	if id, err := h.s.EnqueueUnique(context.Background(), req, work.Keep); err != nil || id != oldID {
		t.Fatalf("Keep after failed Replace = %q, %v; want %q", id, err, oldID)
	}
}

func TestUniqueNameReusableAfterFinish(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.register("once", func(context.Context, work.Data) (work.Data, error) { return nil, nil })
	req := work.NewOneTime("once", nil, work.Constraints{})
	req.UniqueName = "report"
	id1, _ := h.s.EnqueueUnique(context.Background(), req, work.Keep)
	h.waitState(id1, work.Succeeded)
	id2, err := h.s.EnqueueUnique(context.Background(), req, work.Keep)
	if err != nil || id2 == id1 {
		t.Fatalf("second enqueue = %s, %v", id2, err)
	}
}

func TestCancelRunningWork(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	started := make(chan struct{})
	cause := make(chan error, 1)
	h.register("long", func(ctx context.Context, _ work.Data) (work.Data, error) {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return work.Data{"partial": "yes"}, nil
	})

	id := h.enqueue(work.NewOneTime("long", nil, work.Constraints{}))
	<-started
	h.waitState(id, work.Running)

	if err := h.s.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec := h.waitState(id, work.Cancelled)
	if rec.Output != nil {
		t.Fatalf("cancelled record has output %v", rec.Output)
	}
	select {
	case c := <-cause:
		if !errors.Is(c, ErrCancelled) {
			t.Fatalf("cause = %v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("running work not interrupted")
	}

	// The late outcome must not resurrect the record.
	time.Sleep(20 * time.Millisecond)
	if st, _ := h.s.GetState(context.Background(), id); st != work.Cancelled {
		t.Fatalf("state after outcome = %v", st)
	}
}

func TestCancelEdgeCases(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.s.Cancel(context.Background(), "missing"); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("Cancel(missing) = %v", err)
	}

	h.register("ok", func(context.Context, work.Data) (work.Data, error) { return work.Data{"a": "b"}, nil })
	id := h.enqueue(work.NewOneTime("ok", nil, work.Constraints{}))
	h.waitState(id, work.Succeeded)
	if err := h.s.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel(finished) = %v", err)
	}
	if rec, _ := h.s.GetRecord(context.Background(), id); rec.State != work.Succeeded || rec.Output["a"] != "b" {
		t.Fatalf("finished record changed: %+v", rec)
	}

	// Cancelling an enqueued periodic record ends it.
	h.register("p", func(context.Context, work.Data) (work.Data, error) { return nil, nil })
	req := work.NewPeriodic("p", time.Hour, work.Constraints{})
	req.UniqueName = "nightly"
	pid := h.enqueue(req)
	h.waitRecord(pid, "ran once", func(r work.Record) bool { return r.State == work.Enqueued && r.NextEligibleAt.After(h.clock.Now()) })
	if err := h.s.CancelUnique(context.Background(), "nightly"); err != nil {
		t.Fatal(err)
	}
	h.waitState(pid, work.Cancelled)
	if err := h.s.CancelUnique(context.Background(), "never-used"); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("CancelUnique(unknown) = %v", err)
	}
}

func TestConnectedConstraintBlocksUntilEnvironmentChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withEnv(constraint.Environment{}))
	h.register("one_time_request", func(context.Context, work.Data) (work.Data, error) {
		return work.Data{"outputKey": "Output Value"}, nil
	})

	id := h.enqueue(work.NewOneTime("one_time_request", work.Data{"inputKey": "Input Value"},
		work.Constraints{RequiredNetwork: work.NetworkConnected}))
	h.waitState(id, work.Blocked)

	// Still blocked on re-evaluation without an environment change.
	h.s.Wake()
	time.Sleep(20 * time.Millisecond)
	if st, _ := h.s.GetState(context.Background(), id); st != work.Blocked {
		t.Fatalf("state = %v", st)
	}

	h.mon.Update(func(e *constraint.Environment) { e.Network.Connected = true })
	rec := h.waitState(id, work.Succeeded)
	if rec.Output["outputKey"] != "Output Value" {
		t.Fatalf("output = %v", rec.Output)
	}

	var path []work.State
	for _, tr := range h.transitions(id) {
		path = append(path, tr.To)
	}
	want := []work.State{work.Enqueued, work.Blocked, work.Enqueued, work.Running, work.Succeeded}
	if len(path) != len(want) {
		t.Fatalf("transitions = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", path, want)
		}
	}
}

func TestDispatchIsFIFO(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withWorkers(1))
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	h.register("w", func(_ context.Context, in work.Data) (work.Data, error) {
		if in["n"] == "first" {
			<-gate
		}
		mu.Lock()
		order = append(order, in["n"])
		mu.Unlock()
		return nil, nil
	})

	first := h.enqueue(work.NewOneTime("w", work.Data{"n": "first"}, work.Constraints{}))
	h.waitState(first, work.Running)
	var ids []string
	for _, n := range []string{"a", "b", "c", "d"} {
		ids = append(ids, h.enqueue(work.NewOneTime("w", work.Data{"n": n}, work.Constraints{})))
	}
	close(gate)
	for _, id := range ids {
		h.waitState(id, work.Succeeded)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "a", "b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestSubscribeStateDeliversCurrentThenChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withEnv(constraint.Environment{}))
	h.register("charge", func(context.Context, work.Data) (work.Data, error) { return work.Data{"done": "1"}, nil })

	if _, err := h.s.SubscribeState("nope", func(observe.Update) {}); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("SubscribeState(unknown) = %v", err)
	}

	id := h.enqueue(work.NewOneTime("charge", nil, work.Constraints{RequiresCharging: true}))
	h.waitState(id, work.Blocked)

	got := make(chan observe.Update, 16)
	unsub, err := h.s.SubscribeState(id, func(u observe.Update) { got <- u })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	select {
	case u := <-got:
		if u.State != work.Blocked {
			t.Fatalf("initial state = %v", u.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("current state not delivered")
	}

	h.mon.Update(func(e *constraint.Environment) { e.Charging = true })
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-got:
			if u.State == work.Succeeded {
				if u.Output["done"] != "1" {
					t.Fatalf("output = %v", u.Output)
				}
				return
			}
		case <-deadline:
			t.Fatal("success not observed")
		}
	}
}

func TestValidationAndLifecycleErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if _, err := h.s.Enqueue(context.Background(), work.Request{Kind: work.OneTime}); !work.IsValidation(err) {
		t.Fatalf("missing worker err = %v", err)
	}
	if _, err := h.s.EnqueueUnique(context.Background(), work.NewOneTime("w", nil, work.Constraints{}), work.Keep); !work.IsValidation(err) {
		t.Fatalf("missing unique name err = %v", err)
	}

	stopped := New(Config{}, Deps{Store: storage.NewMemory(), Runner: h.run, Env: h.mon})
	if _, err := stopped.Enqueue(context.Background(), work.NewOneTime("w", nil, work.Constraints{})); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Enqueue before Start = %v", err)
	}
}

func TestEnqueuePersistFailureIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.fail.Store(true)
	_, err := h.s.Enqueue(context.Background(), work.NewOneTime("w", nil, work.Constraints{}))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("err = %v", err)
	}
	if len(h.s.Records()) != 0 {
		t.Fatal("failed enqueue left a record behind")
	}
}

func TestFailedTransitionWriteIsFlushedLater(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	release := make(chan struct{})
	h.register("w", func(context.Context, work.Data) (work.Data, error) {
		<-release
		return work.Data{"k": "v"}, nil
	})
	id := h.enqueue(work.NewOneTime("w", nil, work.Constraints{}))
	h.waitState(id, work.Running)

	h.store.fail.Store(true)
	close(release)
	h.waitState(id, work.Succeeded)
	if stored, _ := h.store.Get(context.Background(), id); stored.State == work.Succeeded {
		t.Fatal("store accepted a write while failing")
	}

	h.store.fail.Store(false)
	h.s.Wake()
	deadline := time.Now().Add(3 * time.Second)
	for {
		stored, _ := h.store.Get(context.Background(), id)
		if stored.State == work.Succeeded && stored.Output["k"] == "v" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("dirty record never flushed: %+v", stored)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartRecoversRunningRecords(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	interrupted := work.Record{
		ID:             "crashed",
		Request:        work.NewOneTime("w", nil, work.Constraints{}),
		State:          work.Running,
		Seq:            41,
		NextEligibleAt: now,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	if err := store.Put(context.Background(), interrupted); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, withStore(store), withoutRunner())
	if st, err := h.s.GetState(context.Background(), "crashed"); err != nil || st != work.Enqueued {
		t.Fatalf("recovered state = %v, %v", st, err)
	}
	stored, _ := store.Get(context.Background(), "crashed")
	if stored.State != work.Enqueued {
		t.Fatalf("stored state = %v", stored.State)
	}

	// New records continue the sequence.
	id := h.enqueue(work.NewOneTime("w", nil, work.Constraints{}))
	rec, _ := h.s.GetRecord(context.Background(), id)
	if rec.Seq != 42 {
		t.Fatalf("Seq = %d, want 42", rec.Seq)
	}
}

func TestRestartCancelsDuplicateUniqueRecords(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	h := newHarness(t, withStore(store), withoutRunner())
	ctx := context.Background()

	req := work.NewOneTime("sync", nil, work.Constraints{})
	req.UniqueName = "X"
	keptID, err := h.s.EnqueueUnique(ctx, req, work.Keep)
	if err != nil {
		t.Fatal(err)
	}
	// Another writer put a second live "X" behind the scheduler's back.
	now := h.clock.Now()
	dup := work.Record{
		ID:             "dup",
		Request:        req,
		State:          work.Enqueued,
		UniqueName:     "X",
		Seq:            100,
		NextEligibleAt: now,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	if err := store.Put(ctx, dup); err != nil {
		t.Fatal(err)
	}

	h.s.Stop(ctx)
	if err := h.s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	live := 0
	for _, r := range h.s.Records() {
		if r.UniqueName == "X" && !r.Finished() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live records named X = %d, want 1", live)
	}
	if st, _ := h.s.GetState(ctx, "dup"); st != work.Cancelled {
		t.Fatalf("duplicate state = %s, want cancelled", st)
	}
	if stored, _ := store.Get(ctx, "dup"); stored.State != work.Cancelled {
		t.Fatalf("stored duplicate state = %s", stored.State)
	}
	if id, err := h.s.EnqueueUnique(ctx, req, work.Keep); err != nil || id != keptID {
		t.Fatalf("Keep after restart = %q, %v; want %q", id, err, keptID)
	}
}

func TestSubscribeStateAfterRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withoutRunner())
	ctx := context.Background()
	id := h.enqueue(work.NewOneTime("w", nil, work.Constraints{}))

	h.s.Stop(ctx)
	if err := h.s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	got := make(chan observe.Update, 4)
	unsub, err := h.s.SubscribeState(id, func(u observe.Update) { got <- u })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()
	select {
	case u := <-got:
		if u.State != work.Enqueued {
			t.Fatalf("state = %s, want enqueued", u.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update after restart")
	}

	if err := h.s.Cancel(ctx, id); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-got:
			if u.State == work.Cancelled {
				return
			}
		case <-deadline:
			t.Fatal("cancel not observed after restart")
		}
	}
}

func TestStopRequeuesRunningWork(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	h := newHarness(t, withStore(store))
	started := make(chan struct{})
	h.register("long", func(ctx context.Context, _ work.Data) (work.Data, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	id := h.enqueue(work.NewOneTime("long", nil, work.Constraints{}))
	<-started
	h.waitState(id, work.Running)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.s.Stop(ctx)

	stored, err := store.Get(context.Background(), id)
	if err != nil || stored.State != work.Enqueued {
		t.Fatalf("stored after stop = %+v, %v", stored, err)
	}
	if _, err := h.s.Enqueue(context.Background(), work.NewOneTime("long", nil, work.Constraints{})); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Enqueue after Stop = %v", err)
	}
}

func TestPruneRemovesOldFinishedRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.s.cfg.PruneAfter = time.Hour
	h.register("ok", func(context.Context, work.Data) (work.Data, error) { return nil, nil })
	h.register("p", func(context.Context, work.Data) (work.Data, error) { return nil, nil })

	done := h.enqueue(work.NewOneTime("ok", nil, work.Constraints{}))
	h.waitState(done, work.Succeeded)
	live := h.enqueue(work.NewPeriodic("p", time.Hour, work.Constraints{}))

	h.clock.Advance(2 * time.Hour)
	h.s.prune(context.Background())

	if _, err := h.s.GetRecord(context.Background(), done); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("finished record not pruned: %v", err)
	}
	if _, err := h.store.Get(context.Background(), done); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("finished record still stored: %v", err)
	}
	if _, err := h.s.GetRecord(context.Background(), live); err != nil {
		t.Fatalf("live periodic record pruned: %v", err)
	}
}

func TestRunnerBusyLeavesWorkEnqueued(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withWorkers(1))
	gate := make(chan struct{})
	h.register("w", func(context.Context, work.Data) (work.Data, error) {
		<-gate
		return nil, nil
	})
	a := h.enqueue(work.NewOneTime("w", nil, work.Constraints{}))
	h.waitState(a, work.Running)
	b := h.enqueue(work.NewOneTime("w", nil, work.Constraints{}))
	time.Sleep(20 * time.Millisecond)
	if st, _ := h.s.GetState(context.Background(), b); st != work.Enqueued {
		t.Fatalf("second record state = %v while runner busy", st)
	}
	close(gate)
	h.waitState(b, work.Succeeded)
}
