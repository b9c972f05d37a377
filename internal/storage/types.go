package storage

import (
	"context"
	"time"

	"workmgr/internal/work"
)

// Store is the persistence API used by the scheduler and the CLI.
//
// Lookups that miss return work.ErrNotFound. Lists are ordered by Record.Seq.
type Store interface {
	Put(ctx context.Context, rec work.Record) error
	Get(ctx context.Context, id string) (work.Record, error)
	// FindByUniqueName returns the most recently inserted record carrying name,
	// finished or not.
	FindByUniqueName(ctx context.Context, name string) (work.Record, error)
	// ListEligible returns Enqueued records due at now.
	ListEligible(ctx context.Context, now time.Time) ([]work.Record, error)
	List(ctx context.Context) ([]work.Record, error)
	Delete(ctx context.Context, id string) error
	// PruneFinished removes finished records last updated before the cutoff and
	// reports how many were removed.
	PruneFinished(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory" (also the default when empty)
//   - "file": JSON Lines journal + snapshot next to Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RetryConfig bounds WithRetry.
type RetryConfig struct {
	Max      int           // attempts including the first; default 3
	Base     time.Duration // default 50ms
	MaxDelay time.Duration // default 2s
	Jitter   float64       // fraction, default 0.2
}
