package scheduler

import (
	"context"
	"errors"
	"time"

	"workmgr/internal/runner"
	"workmgr/internal/work"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

// pass runs one evaluation over all waiting records in FIFO order and returns
// the earliest future NextEligibleAt (zero when nothing is pending).
func (s *Service) pass(ctx context.Context) time.Time {
	s.metrics.Pass()
	s.flushDirty(ctx)

	now := s.now()
	env := s.env.Current()
	busy := false
	var next time.Time
	counts := map[work.State]int{}

	for _, e := range s.snapshot() {
		if ctx.Err() != nil {
			return time.Time{}
		}
		e.mu.Lock()
		st := e.rec.State
		if st != work.Enqueued && st != work.Blocked {
			counts[st]++
			e.mu.Unlock()
			continue
		}
		if e.rec.NextEligibleAt.After(now) {
			if next.IsZero() || e.rec.NextEligibleAt.Before(next) {
				next = e.rec.NextEligibleAt
			}
			counts[st]++
			e.mu.Unlock()
			continue
		}

		if !constraint.Evaluate(e.rec.Request.Constraints, env) {
			if st != work.Blocked {
				s.log.Info("work blocked",
					logx.String("id", e.id),
					logx.Strs("unsatisfied", constraint.Unsatisfied(e.rec.Request.Constraints, env)),
				)
				e.rec.State = work.Blocked
				_ = s.commitLocked(e, st)
			}
			counts[work.Blocked]++
			e.mu.Unlock()
			continue
		}
		if st == work.Blocked {
			e.rec.State = work.Enqueued
			_ = s.commitLocked(e, work.Blocked)
		}

		if !busy {
			switch err := s.dispatchLocked(e); {
			case err == nil:
			case errors.Is(err, runner.ErrBusy):
				// FIFO: later records wait for the next free worker.
				busy = true
			default:
				s.log.Warn("dispatch failed", logx.String("id", e.id), logx.Err(err))
			}
		}
		counts[e.rec.State]++
		e.mu.Unlock()
	}

	s.metrics.SetRecordCounts(counts)
	return next
}

// dispatchLocked hands e to the runner and marks it Running. Caller holds e.mu,
// which also keeps the completion callback from observing the pre-Running state.
func (s *Service) dispatchLocked(e *entry) error {
	jobCtx, cancel := context.WithCancelCause(s.runCtx)
	id := e.id
	job := runner.Job{
		ID:     id,
		Worker: e.rec.Request.Worker,
		Input:  e.rec.Request.Input,
		Ctx:    jobCtx,
		Done:   func(o runner.Outcome) { s.complete(id, o) },
	}
	s.inflight.Add(1)
	if err := s.run.TrySubmit(job); err != nil {
		s.inflight.Done()
		cancel(nil)
		return err
	}

	prev := e.rec.State
	e.cancel = cancel
	e.rec.State = work.Running
	e.rec.LastRunAt = s.now()
	_ = s.commitLocked(e, prev)
	s.log.Info("work started", logx.String("id", id), logx.String("worker", job.Worker), logx.Int("attempt", e.rec.RunAttemptCount+1))
	return nil
}
