package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// RetryObserver is notified of every retried store operation.
type RetryObserver interface {
	StoreRetry(op string)
}

type retryStore struct {
	inner Store
	cfg   RetryConfig
	log   logx.Logger
	obs   RetryObserver

	rngMu sync.Mutex
	rng   *rand.Rand
}

// WithRetry wraps s so transient failures are retried with jittered
// exponential backoff. work.ErrNotFound and context errors are returned
// immediately. Once cfg.Max attempts fail the error wraps
// work.ErrStoreUnavailable.
func WithRetry(s Store, cfg RetryConfig, log logx.Logger, obs RetryObserver) Store {
	if cfg.Max <= 0 {
		cfg.Max = 3
	}
	if cfg.Base <= 0 {
		cfg.Base = 50 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 0.2
	}
	return &retryStore{
		inner: s,
		cfg:   cfg,
		log:   log,
		obs:   obs,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, work.ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (s *retryStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if !retryable(err) {
			return err
		}
		if attempt >= s.cfg.Max {
			break
		}
		if s.obs != nil {
			s.obs.StoreRetry(op)
		}
		d := s.backoff(attempt)
		s.log.Warn("store op failed; retrying",
			logx.String("op", op),
			logx.Int("attempt", attempt),
			logx.Duration("backoff", d),
			logx.Err(err),
		)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", op, s.cfg.Max, work.ErrStoreUnavailable, err)
}

// backoff returns the delay after the given failed attempt (1-based).
func (s *retryStore) backoff(attempt int) time.Duration {
	d := s.cfg.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > s.cfg.MaxDelay {
			d = s.cfg.MaxDelay
			break
		}
	}
	s.rngMu.Lock()
	r := (s.rng.Float64()*2 - 1) * s.cfg.Jitter
	s.rngMu.Unlock()
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	return d
}

func (s *retryStore) Put(ctx context.Context, rec work.Record) error {
	return s.do(ctx, "put", func() error { return s.inner.Put(ctx, rec) })
}

func (s *retryStore) Get(ctx context.Context, id string) (work.Record, error) {
	var out work.Record
	err := s.do(ctx, "get", func() (err error) {
		out, err = s.inner.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *retryStore) FindByUniqueName(ctx context.Context, name string) (work.Record, error) {
	var out work.Record
	err := s.do(ctx, "find_unique", func() (err error) {
		out, err = s.inner.FindByUniqueName(ctx, name)
		return err
	})
	return out, err
}

func (s *retryStore) ListEligible(ctx context.Context, now time.Time) ([]work.Record, error) {
	var out []work.Record
	err := s.do(ctx, "list_eligible", func() (err error) {
		out, err = s.inner.ListEligible(ctx, now)
		return err
	})
	return out, err
}

func (s *retryStore) List(ctx context.Context) ([]work.Record, error) {
	var out []work.Record
	err := s.do(ctx, "list", func() (err error) {
		out, err = s.inner.List(ctx)
		return err
	})
	return out, err
}

func (s *retryStore) Delete(ctx context.Context, id string) error {
	return s.do(ctx, "delete", func() error { return s.inner.Delete(ctx, id) })
}

func (s *retryStore) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.do(ctx, "prune", func() (err error) {
		n, err = s.inner.PruneFinished(ctx, before)
		return err
	})
	return n, err
}

func (s *retryStore) Close() error { return s.inner.Close() }
