package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

type flakyStore struct {
	Store
	failures atomic.Int32
	calls    atomic.Int32
	err      error
}

func (f *flakyStore) Put(ctx context.Context, r work.Record) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return f.err
	}
	return f.Store.Put(ctx, r)
}

type countingObserver struct{ n atomic.Int32 }

func (c *countingObserver) StoreRetry(string) { c.n.Add(1) }

func fastRetry(max int) RetryConfig {
	return RetryConfig{Max: max, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetryRecoversFromTransientErrors(t *testing.T) {
	t.Parallel()
	inner := &flakyStore{Store: NewMemory(), err: errors.New("disk busy")}
	inner.failures.Store(2)
	obs := &countingObserver{}
	s := WithRetry(inner, fastRetry(3), logx.Nop(), obs)

	if err := s.Put(context.Background(), rec("a", 1, work.Enqueued, t0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if inner.calls.Load() != 3 || obs.n.Load() != 2 {
		t.Fatalf("calls=%d retries=%d", inner.calls.Load(), obs.n.Load())
	}
}

func TestWithRetryGivesUpWithStoreUnavailable(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	inner := &flakyStore{Store: NewMemory(), err: boom}
	inner.failures.Store(100)
	s := WithRetry(inner, fastRetry(4), logx.Nop(), nil)

	err := s.Put(context.Background(), rec("a", 1, work.Enqueued, t0))
	if !errors.Is(err, work.ErrStoreUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if inner.calls.Load() != 4 {
		t.Fatalf("calls = %d, want 4", inner.calls.Load())
	}
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	s := WithRetry(NewMemory(), fastRetry(5), logx.Nop(), obs)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, work.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if obs.n.Load() != 0 {
		t.Fatalf("NotFound was retried %d times", obs.n.Load())
	}
}
