package scheduler

import (
	"workmgr/internal/runner"
	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// complete applies a runner outcome. Outcomes for records that are no longer
// Running (cancelled or replaced meanwhile) are dropped.
func (s *Service) complete(id string, o runner.Outcome) {
	defer s.inflight.Done()
	defer s.wake()

	e := s.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel(nil)
		e.cancel = nil
	}
	if e.rec.State != work.Running {
		s.log.Debug("outcome ignored", logx.String("id", id), logx.String("state", e.rec.State.String()), logx.String("outcome", o.Kind.String()))
		return
	}

	now := s.now()
	r := &e.rec
	periodic := r.Request.Kind == work.Periodic

	switch o.Kind {
	case runner.Success:
		r.LastError = ""
		if periodic {
			r.State = work.Enqueued
			r.NextEligibleAt = now.Add(r.Request.Interval)
			r.RunAttemptCount = 0
			r.Output = nil
		} else {
			r.State = work.Succeeded
			r.Output = o.Output.Clone()
		}
		s.log.Info("work succeeded", logx.String("id", id), logx.String("worker", r.Request.Worker), logx.Duration("took", o.Duration))

	case runner.Failure:
		r.RunAttemptCount++
		if o.Err != nil {
			r.LastError = o.Err.Error()
		}
		if periodic {
			r.State = work.Enqueued
			r.NextEligibleAt = now.Add(r.Request.Interval)
		} else {
			r.State = work.Failed
		}
		s.log.Warn("work failed",
			logx.String("id", id),
			logx.String("worker", r.Request.Worker),
			logx.Int("attempts", r.RunAttemptCount),
			logx.Bool("periodic", periodic),
			logx.Err(o.Err),
		)

	case runner.Cancelled:
		// Still Running, so this was not a user cancel: shutdown or runner
		// stop interrupted it. Run it again later.
		r.State = work.Enqueued
		r.NextEligibleAt = now
		s.log.Info("work interrupted; re-queued", logx.String("id", id), logx.Err(o.Err))
	}

	_ = s.commitLocked(e, work.Running)
}
