package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workmgr/internal/env"
	"workmgr/internal/eventbus"
	"workmgr/internal/runner"
	"workmgr/internal/storage"
	"workmgr/internal/work"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// toggleStore fails every write while fail is set.
type toggleStore struct {
	storage.Store
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (t *toggleStore) Put(ctx context.Context, r work.Record) error {
	if t.fail.Load() {
		return errDiskFull
	}
	return t.Store.Put(ctx, r)
}

type harness struct {
	t     *testing.T
	s     *Service
	store *toggleStore
	reg   *runner.Registry
	run   *runner.Service
	mon   *env.Monitor
	bus   eventbus.Bus
	clock *fakeClock

	events <-chan eventbus.Event
}

type harnessOpt func(*harnessCfg)

type harnessCfg struct {
	workers int
	env     constraint.Environment
	store   storage.Store
	noStart bool
}

func withWorkers(n int) harnessOpt { return func(c *harnessCfg) { c.workers = n } }
func withEnv(e constraint.Environment) harnessOpt {
	return func(c *harnessCfg) { c.env = e }
}
func withStore(s storage.Store) harnessOpt { return func(c *harnessCfg) { c.store = s } }
func withoutRunner() harnessOpt { return func(c *harnessCfg) { c.noStart = true } }

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	hc := harnessCfg{
		workers: 2,
		env:     constraint.Environment{Network: constraint.Network{Connected: true}, Charging: true},
		store:   storage.NewMemory(),
	}
	for _, o := range opts {
		o(&hc)
	}

	h := &harness{
		t:     t,
		store: &toggleStore{Store: hc.store},
		reg:   runner.NewRegistry(),
		bus:   eventbus.New(),
		clock: newFakeClock(),
	}
	h.events, _ = h.bus.Subscribe(256, eventbus.TypeWorkState)
	h.mon = env.NewMonitor(hc.env, h.bus, logx.Nop())
	h.run = runner.New(runner.Config{Workers: hc.workers}, h.reg, logx.Nop(), h.bus, nil)
	h.s = New(Config{Now: h.clock.Now, EvalRatePerSec: 1000}, Deps{
		Store:  h.store,
		Runner: h.run,
		Env:    h.mon,
		Bus:    h.bus,
		Log:    logx.Nop(),
	})
	h.run.OnIdle(h.s.Wake)

	if !hc.noStart {
		h.run.Start(context.Background())
	}
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.s.Stop(ctx)
		h.run.Stop(ctx)
	})
	return h
}

func (h *harness) register(name string, fn runner.WorkFunc) {
	h.t.Helper()
	if err := h.reg.Register(name, fn); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) enqueue(req work.Request) string {
	h.t.Helper()
	id, err := h.s.Enqueue(context.Background(), req)
	if err != nil {
		h.t.Fatalf("Enqueue: %v", err)
	}
	return id
}

// waitRecord polls until cond holds for record id.
func (h *harness) waitRecord(id string, what string, cond func(work.Record) bool) work.Record {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := h.s.GetRecord(context.Background(), id)
		if err == nil && cond(rec) {
			return rec
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("record %s never reached %s (last: %+v, err: %v)", id, what, rec, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitState(id string, st work.State) work.Record {
	h.t.Helper()
	return h.waitRecord(id, st.String(), func(r work.Record) bool { return r.State == st })
}

// transitions drains buffered work.state events for id.
func (h *harness) transitions(id string) []StateEvent {
	var out []StateEvent
	for {
		select {
		case ev := <-h.events:
			if se, ok := ev.Data.(StateEvent); ok && se.ID == id {
				out = append(out, se)
			}
		default:
			return out
		}
	}
}
