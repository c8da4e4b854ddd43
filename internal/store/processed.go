package store

import (
	"sort"
	"time"
)

// ProcessedSet holds the source alert IDs already delivered to TheHive,
// either accepted or reported there as duplicates. It only grows.
// Not safe for concurrent use; the sync loop is its single writer.
type ProcessedSet struct {
	ids     map[string]struct{}
	updated time.Time
}

func NewProcessedSet(ids ...string) *ProcessedSet {
	s := &ProcessedSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *ProcessedSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add reports whether id was newly inserted. Empty IDs are ignored.
func (s *ProcessedSet) Add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *ProcessedSet) Len() int { return len(s.ids) }

// IDs returns the members sorted, so persisted output is stable.
func (s *ProcessedSet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Updated is the last-save time recorded by the backend, zero if unknown.
func (s *ProcessedSet) Updated() time.Time { return s.updated }
