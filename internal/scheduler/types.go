package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"workmgr/internal/eventbus"
	"workmgr/internal/metrics"
	"workmgr/internal/observe"
	"workmgr/internal/runner"
	"workmgr/internal/storage"
	"workmgr/internal/work"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

var (
	// ErrNotRunning is returned by mutating calls before Start or after Stop.
	ErrNotRunning = errors.New("scheduler not running")

	// Cancellation causes seen by work functions through context.Cause.
	ErrCancelled = errors.New("work cancelled")
	ErrReplaced  = errors.New("work replaced by a newer unique request")
	ErrShutdown  = errors.New("scheduler shutting down")
)

// Config controls evaluation pacing and housekeeping.
type Config struct {
	// PollInterval re-evaluates everything periodically even without
	// triggers. Default 1m.
	PollInterval time.Duration
	// EvalRatePerSec caps evaluation passes per second. Default 20.
	EvalRatePerSec int
	// PruneAfter removes finished records older than this. 0 keeps them.
	PruneAfter time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.EvalRatePerSec <= 0 {
		c.EvalRatePerSec = 20
	}
	if c.PruneAfter < 0 {
		c.PruneAfter = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Submitter is the part of runner.Service the scheduler needs.
type Submitter interface {
	TrySubmit(j runner.Job) error
}

// EnvSource provides the environment snapshot constraints are evaluated against.
type EnvSource interface {
	Current() constraint.Environment
}

// Deps are the collaborators of a Service. Store, Runner and Env are required.
type Deps struct {
	Store   storage.Store
	Runner  Submitter
	Env     EnvSource
	Bus     eventbus.Bus     // optional; env.changed triggers and work.state events
	Observe *observe.Bus     // optional; created when nil
	Metrics *metrics.Metrics // optional
	Log     logx.Logger
}

// StateEvent is the payload of eventbus.TypeWorkState events.
type StateEvent struct {
	ID     string
	Worker string
	From   work.State
	To     work.State
	At     time.Time
}

// entry is the in-memory home of one record. mu serialises its transitions.
type entry struct {
	// id and seq are fixed at insert and may be read without mu.
	id  string
	seq int64

	mu    sync.Mutex
	rec   work.Record
	dirty bool // last persist failed; retried every pass
	// cancel interrupts the running execution; set only while Running.
	cancel context.CancelCauseFunc
}

func newEntry(rec work.Record) *entry {
	return &entry{id: rec.ID, seq: rec.Seq, rec: rec}
}

// keyedMutex hands out one mutex per unique name.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
