package livequery

import (
	"reflect"

	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// snapshot is the observer's local copy of matching records: ordered, at most
// one record per id.
type snapshot[T record.Record] struct {
	items []T
	index map[string]int
}

func newSnapshot[T record.Record](items []T) *snapshot[T] {
	s := &snapshot[T]{items: make([]T, 0, len(items)), index: make(map[string]int, len(items))}
	for _, it := range items {
		s.upsert(it)
	}
	return s
}

// upsert replaces the record with the same id in place, or appends it. It
// reports whether the snapshot changed.
func (s *snapshot[T]) upsert(rec T) bool {
	id := rec.RecordID()
	if i, ok := s.index[id]; ok {
		if reflect.DeepEqual(s.items[i], rec) {
			return false
		}
		s.items[i] = rec
		return true
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, rec)
	return true
}

// remove drops the record with id. Absence is not an error.
func (s *snapshot[T]) remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].RecordID()] = j
	}
	return true
}

func (s *snapshot[T]) len() int { return len(s.items) }

// records returns a copy; callers never see later mutations.
func (s *snapshot[T]) records() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
