package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"workmgr/internal/eventbus"
	rtsup "workmgr/internal/runtime/supervisor"
	logx "workmgr/pkg/logx"
)

// Service is a fixed-size worker pool.
//
// Each worker owns one slot token. TrySubmit takes a token or fails with
// ErrBusy, so acceptance means a worker is free for the job; the token goes
// back when the execution ends and the idle hook fires.
type Service struct {
	mu  sync.Mutex
	cfg Config
	reg *Registry
	log logx.Logger
	bus eventbus.Bus
	obs Observer

	q        chan Job
	slots    chan struct{}
	onIdle   atomic.Pointer[func()]
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight atomic.Int32
}

func New(cfg Config, reg *Registry, log logx.Logger, bus eventbus.Bus, obs Observer) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Service{cfg: cfg, reg: reg, log: log, bus: bus, obs: obs}
}

func (s *Service) Registry() *Registry { return s.reg }

// Workers returns the configured pool size.
func (s *Service) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Workers
}

// InFlight returns the number of executions currently running.
func (s *Service) InFlight() int { return int(s.inFlight.Load()) }

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	// Start is idempotent.
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan Job, cfg.Workers)
	s.slots = make(chan struct{}, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		s.slots <- struct{}{}
	}
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	slots := s.slots

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "runner"))),
		// A broken worker should not take the scheduler down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		// Auto-restart workers if they exit unexpectedly.
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue, slots)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("runner started", logx.Int("workers", cfg.Workers), logx.Duration("default_timeout", cfg.DefaultTimeout))
}

// Stop cancels in-flight executions (their outcome is Cancelled with cause
// ErrStopped) and waits for workers to exit or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		// Wait unbounded in background; caller can still time out.
		_ = sup.Wait(context.Background())
		// Jobs accepted but never picked up still get their outcome.
	drain:
		for {
			select {
			case j := <-queue:
				s.finish(j, Outcome{Kind: Cancelled, Err: ErrStopped, Started: time.Now()})
			default:
				break drain
			}
		}
		s.mu.Lock()
		s.q = nil
		s.slots = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("runner stopped")
	case <-ctx.Done():
		s.log.Warn("runner stop timed out", logx.Err(ctx.Err()))
	}
}

// OnIdle registers fn to be called whenever a worker slot frees up.
// fn must not block.
func (s *Service) OnIdle(fn func()) {
	if fn == nil {
		s.onIdle.Store(nil)
		return
	}
	s.onIdle.Store(&fn)
}

// TrySubmit hands j to a free worker without blocking. It returns ErrBusy
// when every worker is occupied and ErrStopped when the pool is not running.
func (s *Service) TrySubmit(j Job) error {
	if j.Fn == nil && j.Worker == "" {
		return fmt.Errorf("job %s: worker is required", j.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil || s.stopDone != nil {
		return ErrStopped
	}
	select {
	case <-s.slots:
	default:
		return ErrBusy
	}
	// Never blocks: at most cap(q) tokens are outstanding.
	s.q <- j
	return nil
}
