package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// Enqueue validates req and stores it as a new Enqueued record, returning its
// id. A request carrying a UniqueName is enqueued with the Keep policy.
func (s *Service) Enqueue(ctx context.Context, req work.Request) (string, error) {
	if req.UniqueName != "" {
		return s.EnqueueUnique(ctx, req, work.Keep)
	}
	nreq, err := req.Normalize()
	if err != nil {
		return "", err
	}
	if !s.isRunning() {
		return "", ErrNotRunning
	}
	return s.insert(ctx, nreq, nil)
}

// EnqueueUnique enqueues req under req.UniqueName. While a live (unfinished)
// record with that name exists, Keep returns the live id without creating
// anything and Replace cancels the live record once req is stored. If the
// store rejects req the live record is left untouched.
func (s *Service) EnqueueUnique(ctx context.Context, req work.Request, policy work.ExistingPolicy) (string, error) {
	nreq, err := req.Normalize()
	if err != nil {
		return "", err
	}
	if nreq.UniqueName == "" {
		return "", &work.ValidationError{Field: "unique_name", Reason: "required for unique work"}
	}
	if !s.isRunning() {
		return "", ErrNotRunning
	}

	unlock := s.uniq.Lock(nreq.UniqueName)
	defer unlock()

	live := s.liveUnique(nreq.UniqueName)
	if live != nil && policy != work.Replace {
		s.log.Debug("unique work already live; keeping", logx.String("name", nreq.UniqueName), logx.String("id", live.id))
		return live.id, nil
	}
	return s.insert(ctx, nreq, live)
}

// liveUnique returns the newest unfinished entry named name.
func (s *Service) liveUnique(name string) *entry {
	var best *entry
	for _, e := range s.snapshot() {
		e.mu.Lock()
		ok := e.rec.UniqueName == name && !e.rec.Finished()
		e.mu.Unlock()
		if ok {
			best = e
		}
	}
	return best
}

// insert stores req as a new record. replacing, if set, is cancelled after
// the new record is durable and before it becomes visible to dispatch.
func (s *Service) insert(ctx context.Context, req work.Request, replacing *entry) (string, error) {
	now := s.now()
	rec := work.Record{
		ID:             uuid.NewString(),
		Request:        req,
		State:          work.Enqueued,
		NextEligibleAt: now,
		UniqueName:     req.UniqueName,
		Seq:            s.seq.Add(1),
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", req.Worker, err)
	}
	if replacing != nil {
		s.log.Info("replacing unique work", logx.String("name", req.UniqueName), logx.String("old_id", replacing.id))
		if err := s.cancelEntry(replacing, ErrReplaced); err != nil {
			return "", err
		}
	}

	e := newEntry(rec)
	e.mu.Lock()
	s.mu.Lock()
	s.entries[rec.ID] = e
	s.mu.Unlock()
	s.announceLocked(rec, work.Enqueued)
	e.mu.Unlock()

	s.log.Info("work enqueued",
		logx.String("id", rec.ID),
		logx.String("worker", req.Worker),
		logx.String("kind", req.Kind.String()),
		logx.String("unique_name", req.UniqueName),
	)
	s.wake()
	return rec.ID, nil
}
