package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"workmgr/internal/eventbus"
	"workmgr/internal/metrics"
	"workmgr/internal/observe"
	rtsup "workmgr/internal/runtime/supervisor"
	"workmgr/internal/storage"
	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// persistTimeout bounds store writes made on behalf of internal transitions.
const persistTimeout = 30 * time.Second

type Service struct {
	cfg     Config
	store   storage.Store
	run     Submitter
	env     EnvSource
	bus     eventbus.Bus
	obs     *observe.Bus
	ownObs  bool
	metrics *metrics.Metrics
	log     logx.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	seq     atomic.Int64
	uniq    keyedMutex

	// lifecycle
	lmu       sync.Mutex
	running   bool
	sup       *rtsup.Supervisor
	cron      *cron.Cron
	runCtx    context.Context
	runCancel context.CancelCauseFunc
	inflight  sync.WaitGroup

	kick    chan struct{}
	limiter *rate.Limiter
}

func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	obs := deps.Observe
	own := false
	if obs == nil {
		obs = observe.NewBus(log)
		own = true
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		run:     deps.Runner,
		env:     deps.Env,
		bus:     deps.Bus,
		obs:     obs,
		ownObs:  own,
		metrics: deps.Metrics,
		log:     log,
		entries: map[string]*entry{},
		kick:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(cfg.EvalRatePerSec), cfg.EvalRatePerSec),
	}
}

// Observe returns the observation bus state updates are published on.
func (s *Service) Observe() *observe.Bus { return s.obs }

func (s *Service) now() time.Time { return s.cfg.Now() }

func (s *Service) isRunning() bool {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return s.running
}

// Start loads the working set from the store, recovers interrupted runs and
// starts the evaluation loop.
func (s *Service) Start(ctx context.Context) error {
	if s.store == nil || s.run == nil || s.env == nil {
		return errors.New("scheduler: store, runner and environment are required")
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.running {
		return nil
	}
	if s.ownObs {
		// Stop closed it; a restarted service publishes again.
		s.obs.Reopen()
	}

	if err := s.load(ctx); err != nil {
		return fmt.Errorf("scheduler: load records: %w", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), s.wake); err != nil {
		return fmt.Errorf("scheduler: poll tick: %w", err)
	}
	if s.cfg.PruneAfter > 0 {
		every := s.cfg.PruneAfter / 4
		if every < time.Minute {
			every = time.Minute
		}
		if every > time.Hour {
			every = time.Hour
		}
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() { s.prune(s.runCtx) }); err != nil {
			return fmt.Errorf("scheduler: prune job: %w", err)
		}
	}

	s.runCtx, s.runCancel = context.WithCancelCause(context.Background())
	s.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("loop", s.loop, rtsup.WithPublishFirstError(true))

	if s.bus != nil {
		envCh, unsub := s.bus.Subscribe(16, eventbus.TypeEnvChanged)
		s.sup.Go("env.watch", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case _, ok := <-envCh:
					if !ok {
						return nil
					}
					s.log.Debug("environment changed; re-evaluating")
					s.wake()
				}
			}
		})
	}

	s.cron = c
	s.cron.Start()

	s.running = true
	s.wake()
	s.log.Info("scheduler started",
		logx.Int("records", s.size()),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("eval_rate_per_sec", s.cfg.EvalRatePerSec),
		logx.Duration("prune_after", s.cfg.PruneAfter),
	)
	return nil
}

// Stop halts evaluation, interrupts running work (which is re-queued), waits
// for in-flight completions and flushes records whose last write failed.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.lmu.Lock()
	if !s.running {
		s.lmu.Unlock()
		return
	}
	s.running = false
	c, sup, cancel := s.cron, s.sup, s.runCancel
	s.cron, s.sup = nil, nil
	s.lmu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	sup.Cancel()
	_ = sup.Wait(ctx)

	cancel(ErrShutdown)
	waited := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.log.Warn("scheduler stop: running work did not finish in time", logx.Err(ctx.Err()))
	}

	if n := s.flushDirty(ctx); n > 0 {
		s.log.Warn("scheduler stop: records left unsynced", logx.Int("count", n))
	}
	if s.ownObs {
		s.obs.Close()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Wake requests an evaluation pass. It never blocks; wake-ups coalesce.
// Wire it to runner.Service.OnIdle so freed worker slots are used promptly.
func (s *Service) Wake() { s.wake() }

func (s *Service) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		next := s.pass(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if !next.IsZero() {
			d := next.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
		case <-timer.C:
		}
	}
}

func (s *Service) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Service) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// snapshot returns all entries ordered by Seq. Entry locks are not held.
func (s *Service) snapshot() []*entry {
	s.mu.RLock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].seq != out[j].seq {
			return out[i].seq < out[j].seq
		}
		return out[i].id < out[j].id
	})
	return out
}

// Records returns a copy of every record held, ordered by Seq.
func (s *Service) Records() []work.Record {
	entries := s.snapshot()
	out := make([]work.Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}
	return out
}

// GetRecord returns a copy of the record with id.
func (s *Service) GetRecord(ctx context.Context, id string) (work.Record, error) {
	e := s.lookup(id)
	if e == nil {
		return work.Record{}, work.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

func (s *Service) GetState(ctx context.Context, id string) (work.State, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.State, nil
}

// SubscribeState observes record id. The current state is delivered right
// after subscribing, then every later change (latest wins for slow observers).
func (s *Service) SubscribeState(id string, fn func(observe.Update)) (unsubscribe func(), err error) {
	if id == observe.All {
		return s.obs.Subscribe(observe.All, fn), nil
	}
	e := s.lookup(id)
	if e == nil {
		return nil, work.ErrNotFound
	}
	unsub := s.obs.Subscribe(id, fn)
	// Publishing under the entry lock keeps this ordered with transitions.
	e.mu.Lock()
	s.obs.Publish(updateOf(e.rec))
	e.mu.Unlock()
	return unsub, nil
}

func updateOf(r work.Record) observe.Update {
	return observe.Update{ID: r.ID, State: r.State, Output: r.Output, RunAttemptCount: r.RunAttemptCount, At: r.UpdatedAt}
}

// commitLocked persists e.rec and announces the transition from prev.
// A failed write leaves the record dirty for the next pass. Caller holds e.mu.
func (s *Service) commitLocked(e *entry, prev work.State) error {
	e.rec.UpdatedAt = s.now()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	err := s.store.Put(ctx, e.rec)
	cancel()
	if err != nil {
		e.dirty = true
		s.log.Warn("persist failed; will retry",
			logx.String("id", e.rec.ID),
			logx.String("state", e.rec.State.String()),
			logx.Err(err),
		)
	} else {
		e.dirty = false
	}
	s.announceLocked(e.rec, prev)
	return err
}

func (s *Service) announceLocked(r work.Record, prev work.State) {
	s.metrics.Transition(r.State)
	s.log.Debug("work state",
		logx.String("id", r.ID),
		logx.String("worker", r.Request.Worker),
		logx.String("from", prev.String()),
		logx.String("to", r.State.String()),
	)
	s.obs.Publish(updateOf(r))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeWorkState,
			Time: r.UpdatedAt,
			Data: StateEvent{ID: r.ID, Worker: r.Request.Worker, From: prev, To: r.State, At: r.UpdatedAt},
		})
	}
}

// flushDirty retries persisting records whose last write failed and returns
// how many are still unsynced.
func (s *Service) flushDirty(ctx context.Context) int {
	left := 0
	for _, e := range s.snapshot() {
		e.mu.Lock()
		if e.dirty {
			if err := s.store.Put(ctx, e.rec); err != nil {
				left++
			} else {
				e.dirty = false
			}
		}
		e.mu.Unlock()
	}
	return left
}
