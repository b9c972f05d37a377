package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workmgr/internal/eventbus"
	logx "workmgr/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Job, slots chan<- struct{}) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.inFlight.Add(1)
			s.exec(ctx, j)
			s.inFlight.Add(-1)
			slots <- struct{}{}
			if fn := s.onIdle.Load(); fn != nil {
				(*fn)()
			}
		}
	}
}

func (s *Service) exec(workerCtx context.Context, j Job) {
	parent := j.Ctx
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	// Stopping the pool interrupts the execution.
	stopAfter := context.AfterFunc(workerCtx, func() { cancel(ErrStopped) })
	defer stopAfter()

	timeout := j.Timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	if timeout > 0 {
		var cancelT context.CancelFunc
		runCtx, cancelT = context.WithTimeout(runCtx, timeout)
		defer cancelT()
	}

	fn := j.Fn
	if fn == nil {
		var ok bool
		if fn, ok = s.reg.Lookup(j.Worker); !ok {
			s.finish(j, Outcome{Kind: Failure, Err: fmt.Errorf("%w: %q", ErrUnknownWorker, j.Worker), Started: time.Now()})
			return
		}
	}

	s.log.Debug("work.started", logx.String("id", j.ID), logx.String("worker", j.Worker))
	out := Run(runCtx, fn, j.Input)
	s.finish(j, out)
}

func (s *Service) finish(j Job, out Outcome) {
	fields := []logx.Field{
		logx.String("id", j.ID),
		logx.String("worker", j.Worker),
		logx.String("outcome", out.Kind.String()),
		logx.Duration("took", out.Duration),
	}
	var pe *PanicError
	switch {
	case errors.As(out.Err, &pe):
		s.log.Error("work.panic", append(fields, logx.Any("panic", pe.Value), logx.Stack(pe.Stack))...)
	case out.Kind == Failure:
		s.log.Warn("work.failed", append(fields, logx.Err(out.Err))...)
	default:
		s.log.Debug("work.finished", fields...)
	}

	if s.obs != nil {
		s.obs.ObserveRun(j.Worker, out.Kind.String(), out.Duration)
	}
	if s.bus != nil {
		ev := RunEvent{ID: j.ID, Worker: j.Worker, Outcome: out.Kind.String(), Duration: out.Duration}
		if out.Err != nil {
			ev.Err = out.Err.Error()
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeWorkRun, Time: time.Now(), Data: ev})
	}

	if j.Done == nil {
		return
	}
	// A panicking callback must not kill the worker.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("work done callback panicked", logx.String("id", j.ID), logx.Any("panic", r))
		}
	}()
	j.Done(out)
}
