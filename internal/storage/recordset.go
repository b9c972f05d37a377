package storage

import (
	"sort"
	"time"

	"workmgr/internal/work"
)

// recordSet is the in-memory index shared by the memory and file drivers.
// Callers hold their own lock.
type recordSet struct {
	byID     map[string]work.Record
	byUnique map[string]map[string]struct{}
}

func newRecordSet() *recordSet {
	return &recordSet{
		byID:     map[string]work.Record{},
		byUnique: map[string]map[string]struct{}{},
	}
}

func (s *recordSet) put(rec work.Record) {
	if old, ok := s.byID[rec.ID]; ok && old.UniqueName != rec.UniqueName {
		s.unindex(old)
	}
	s.byID[rec.ID] = rec.Clone()
	if rec.UniqueName != "" {
		ids := s.byUnique[rec.UniqueName]
		if ids == nil {
			ids = map[string]struct{}{}
			s.byUnique[rec.UniqueName] = ids
		}
		ids[rec.ID] = struct{}{}
	}
}

func (s *recordSet) unindex(rec work.Record) {
	if rec.UniqueName == "" {
		return
	}
	if ids := s.byUnique[rec.UniqueName]; ids != nil {
		delete(ids, rec.ID)
		if len(ids) == 0 {
			delete(s.byUnique, rec.UniqueName)
		}
	}
}

func (s *recordSet) get(id string) (work.Record, bool) {
	rec, ok := s.byID[id]
	if !ok {
		return work.Record{}, false
	}
	return rec.Clone(), true
}

func (s *recordSet) delete(id string) bool {
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	s.unindex(rec)
	delete(s.byID, id)
	return true
}

func (s *recordSet) findUnique(name string) (work.Record, bool) {
	var (
		best  work.Record
		found bool
	)
	for id := range s.byUnique[name] {
		rec := s.byID[id]
		if !found || rec.Seq > best.Seq {
			best, found = rec, true
		}
	}
	if !found {
		return work.Record{}, false
	}
	return best.Clone(), true
}

func (s *recordSet) list(keep func(work.Record) bool) []work.Record {
	out := make([]work.Record, 0, len(s.byID))
	for _, rec := range s.byID {
		if keep == nil || keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortBySeq(out)
	return out
}

// finishedBefore lists ids of finished records last updated before cutoff.
func (s *recordSet) finishedBefore(cutoff time.Time) []string {
	var ids []string
	for id, rec := range s.byID {
		if rec.Finished() && rec.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *recordSet) all() []work.Record { return s.list(nil) }

func sortBySeq(recs []work.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Seq != recs[j].Seq {
			return recs[i].Seq < recs[j].Seq
		}
		return recs[i].ID < recs[j].ID
	})
}
