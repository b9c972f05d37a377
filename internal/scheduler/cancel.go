package scheduler

import (
	"context"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// Cancel moves an unfinished record to Cancelled, interrupting it if it is
// running. Cancelling a finished record is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) error {
	e := s.lookup(id)
	if e == nil {
		return work.ErrNotFound
	}
	return s.cancelEntry(e, ErrCancelled)
}

// CancelUnique cancels every unfinished record named name. It returns
// work.ErrNotFound when no record ever carried the name.
func (s *Service) CancelUnique(ctx context.Context, name string) error {
	unlock := s.uniq.Lock(name)
	defer unlock()

	found := false
	for _, e := range s.snapshot() {
		e.mu.Lock()
		match := e.rec.UniqueName == name
		e.mu.Unlock()
		if !match {
			continue
		}
		found = true
		if err := s.cancelEntry(e, ErrCancelled); err != nil {
			return err
		}
	}
	if !found {
		return work.ErrNotFound
	}
	return nil
}

// cancelEntry cancels e with cause. A failed persist leaves the record
// Cancelled in memory and dirty; it is not reported to the caller.
func (s *Service) cancelEntry(e *entry, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Finished() {
		return nil
	}
	prev := e.rec.State
	e.rec.State = work.Cancelled
	e.rec.Output = nil
	if e.cancel != nil {
		e.cancel(cause)
		e.cancel = nil
	}
	_ = s.commitLocked(e, prev)
	s.log.Info("work cancelled", logx.String("id", e.id), logx.String("from", prev.String()), logx.String("reason", cause.Error()))
	return nil
}
