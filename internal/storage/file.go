package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// compactEvery is the number of journal appends between snapshot compactions.
const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (all records at the last compaction)
//   - <prefix>.journal.jsonl (append-only put/del ops since then)
//
// Each append is fsynced before Put/Delete returns. On open the snapshot is
// loaded and the journal replayed on top of it.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	set          *recordSet

	writes int
	// torn is set when the journal may end in a partial line; the next
	// append starts with a newline so it does not merge into it.
	torn bool
}

type journalOp struct {
	Op     string       `json:"op"` // "put" | "del"
	ID     string       `json:"id,omitempty"`
	Record *work.Record `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	set := newRecordSet()
	if err := loadSnapshot(snapPath, set); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, set)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal lines", logx.String("path", journalPath), logx.Int("lines", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	clean, err := endsWithNewline(jf)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		set:          set,
		torn:         !clean,
	}, nil
}

func endsWithNewline(f *os.File) (bool, error) {
	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	if st.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n', nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(op journalOp) error {
	if s.journal == nil {
		return errClosed
	}
	line, err := json.Marshal(op)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if s.torn {
		line = append([]byte{'\n'}, line...)
	}

	st, err := s.journal.Stat()
	if err != nil {
		return err
	}
	off := st.Size()
	if _, err := s.journal.Write(line); err != nil {
		s.rollbackLocked(off)
		return err
	}
	if err := s.journal.Sync(); err != nil {
		s.rollbackLocked(off)
		return err
	}
	s.torn = false
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort: the journal still holds everything if this fails.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

// rollbackLocked drops a failed append. A successful truncate restores the
// tail as it was before the append, torn or not. If the journal cannot be cut
// back the next append is fenced off with a newline instead.
func (s *fileStore) rollbackLocked(off int64) {
	if err := s.journal.Truncate(off); err != nil {
		s.log.Warn("journal rollback failed", logx.Err(err))
		s.torn = true
	}
}

func (s *fileStore) Put(ctx context.Context, rec work.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec.Clone()
	if err := s.appendLocked(journalOp{Op: "put", Record: &cp}); err != nil {
		return err
	}
	s.set.put(cp)
	return nil
}

func (s *fileStore) Get(ctx context.Context, id string) (work.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.set.get(id); ok {
		return rec, nil
	}
	return work.Record{}, work.ErrNotFound
}

func (s *fileStore) FindByUniqueName(ctx context.Context, name string) (work.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.set.findUnique(name); ok {
		return rec, nil
	}
	return work.Record{}, work.ErrNotFound
}

func (s *fileStore) ListEligible(ctx context.Context, now time.Time) ([]work.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.list(func(r work.Record) bool { return r.Eligible(now) }), nil
}

func (s *fileStore) List(ctx context.Context) ([]work.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.all(), nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set.get(id); !ok {
		return work.ErrNotFound
	}
	if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
		return err
	}
	s.set.delete(id)
	return nil
}

func (s *fileStore) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.set.finishedBefore(before) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
			return n, err
		}
		s.set.delete(id)
		n++
	}
	return n, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.set.all()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.torn = false
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, set *recordSet) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []work.Record
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		set.put(r)
	}
	return nil
}

// replayJournal applies journal ops to set. Lines that fail to decode (a torn
// final write) are skipped and counted.
func replayJournal(path string, set *recordSet) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var op journalOp
		if err := json.Unmarshal(line, &op); err != nil {
			skipped++
			continue
		}
		switch op.Op {
		case "put":
			if op.Record != nil && op.Record.ID != "" {
				set.put(*op.Record)
			}
		case "del":
			set.delete(op.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
