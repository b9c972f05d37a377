package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "workmgr/pkg/logx"
)

// ErrLocked is returned by OpenExclusive when another process owns the store.
var ErrLocked = errors.New("store is in use by another process")

// OpenExclusive opens the store like Open and holds an advisory lock on
// <Path>.lock until Close. The daemon and offline writers both go through it,
// so only one of them mutates a durable store at a time. Memory stores are
// not locked.
func OpenExclusive(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "memory" || strings.TrimSpace(cfg.Path) == "" {
		return Open(cfg, log)
	}

	lockPath := cfg.Path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: %w", cfg.Path, ErrLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	st, err := Open(cfg, log)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &lockedStore{Store: st, lock: f}, nil
}

type lockedStore struct {
	Store
	lock *os.File
}

// Close closes the store, then drops the lock.
func (s *lockedStore) Close() error {
	return errors.Join(s.Store.Close(), s.lock.Close())
}
