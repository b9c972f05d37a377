package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"workmgr/internal/work"
)

var errClosed = errors.New("store closed")

type memoryStore struct {
	mu     sync.RWMutex
	set    *recordSet
	closed bool
}

// NewMemory returns a process-local Store.
func NewMemory() Store { return &memoryStore{set: newRecordSet()} }

func (s *memoryStore) Put(ctx context.Context, rec work.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.set.put(rec)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (work.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.set.get(id); ok {
		return rec, nil
	}
	return work.Record{}, work.ErrNotFound
}

func (s *memoryStore) FindByUniqueName(ctx context.Context, name string) (work.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.set.findUnique(name); ok {
		return rec, nil
	}
	return work.Record{}, work.ErrNotFound
}

func (s *memoryStore) ListEligible(ctx context.Context, now time.Time) ([]work.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.list(func(r work.Record) bool { return r.Eligible(now) }), nil
}

func (s *memoryStore) List(ctx context.Context) ([]work.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.all(), nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set.delete(id) {
		return work.ErrNotFound
	}
	return nil
}

func (s *memoryStore) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.set.finishedBefore(before)
	for _, id := range ids {
		s.set.delete(id)
	}
	return len(ids), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
