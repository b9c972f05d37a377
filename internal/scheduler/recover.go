package scheduler

import (
	"context"
	"time"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// load fills the working set from the store. Records left Running by a
// previous process are put back to Enqueued. When several unfinished records
// share a unique name the oldest (lowest Seq) stays live and the rest are
// cancelled.
func (s *Service) load(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	entries := make(map[string]*entry, len(recs))
	var maxSeq int64
	recovered := 0
	for _, r := range recs {
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
		e := newEntry(r)
		if r.State == work.Running {
			e.rec.State = work.Enqueued
			e.rec.UpdatedAt = s.now()
			if err := s.store.Put(ctx, e.rec); err != nil {
				e.dirty = true
				s.log.Warn("recovered record not persisted", logx.String("id", r.ID), logx.Err(err))
			}
			recovered++
		}
		entries[r.ID] = e
	}
	s.dedupeUnique(ctx, entries)

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	if maxSeq > s.seq.Load() {
		s.seq.Store(maxSeq)
	}
	if recovered > 0 {
		s.log.Info("re-queued work interrupted by previous shutdown", logx.Int("count", recovered))
	}
	return nil
}

func (s *Service) dedupeUnique(ctx context.Context, entries map[string]*entry) {
	oldest := make(map[string]*entry)
	for _, e := range entries {
		if e.rec.UniqueName == "" || e.rec.Finished() {
			continue
		}
		if cur, ok := oldest[e.rec.UniqueName]; !ok || e.rec.Seq < cur.rec.Seq {
			oldest[e.rec.UniqueName] = e
		}
	}
	for _, e := range entries {
		keep, ok := oldest[e.rec.UniqueName]
		if !ok || e == keep || e.rec.Finished() {
			continue
		}
		e.rec.State = work.Cancelled
		e.rec.Output = nil
		e.rec.UpdatedAt = s.now()
		if err := s.store.Put(ctx, e.rec); err != nil {
			e.dirty = true
		}
		s.log.Warn("cancelled duplicate unique work",
			logx.String("name", e.rec.UniqueName),
			logx.String("id", e.id),
			logx.String("kept_id", keep.id),
		)
	}
}

// prune drops finished records older than PruneAfter from memory and store.
func (s *Service) prune(ctx context.Context) {
	if s.cfg.PruneAfter <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.PruneAfter)

	var drop []string
	for _, e := range s.snapshot() {
		e.mu.Lock()
		if e.rec.Finished() && e.rec.UpdatedAt.Before(cutoff) && !e.dirty {
			drop = append(drop, e.id)
		}
		e.mu.Unlock()
	}

	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := s.store.PruneFinished(pctx, cutoff)
	if err != nil {
		s.log.Warn("prune failed", logx.Err(err))
		return
	}
	if len(drop) > 0 {
		s.mu.Lock()
		for _, id := range drop {
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
	if n > 0 || len(drop) > 0 {
		s.log.Info("pruned finished work", logx.Int("store", n), logx.Int("memory", len(drop)), logx.Time("before", cutoff))
	}
}
