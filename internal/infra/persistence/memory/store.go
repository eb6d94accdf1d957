// Package memory provides the authoritative in-process record store and the
// repository built on top of it. Other backends embed it as their working
// view.
package memory

import (
	"sync"

	"recordkeeper/pkg/domain"
)

// Record aliases domain.Record for in-memory persistence operations.
type Record = domain.Record

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Records map[string]Record `json:"records"`
}

// Store is a map of records guarded by a read/write lock. Readers share the
// read lock and writers hold the write lock exclusively. Every value that
// enters or leaves the store is cloned, so callers never alias stored data.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// ListAll returns copies of every record in unspecified order.
func (s *Store) ListAll() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Get returns a copy of the record stored under id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Put inserts rec under id or fully replaces the existing value.
func (s *Store) Put(id string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec.Clone()
}

// Insert stores rec under id only when id is absent and reports whether the
// insert happened.
func (s *Store) Insert(id string, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return false
	}
	s.records[id] = rec.Clone()
	return true
}

// Replace swaps the record stored under id for the value built by fn, in one
// step under the write lock. fn receives a copy of the current value and must
// not call back into the store. Replace reports false, without calling fn,
// when id is absent.
func (s *Store) Replace(id string, fn func(current Record) Record) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	next := fn(current.Clone()).Clone()
	s.records[id] = next
	return next.Clone(), true
}

// Remove deletes id and reports whether a record was removed.
func (s *Store) Remove(id string) bool {
	_, ok := s.Take(id)
	return ok
}

// Take deletes id and returns the removed value.
func (s *Store) Take(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	delete(s.records, id)
	return rec, true
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Records: make(map[string]Record, len(s.records))}
	for id, rec := range s.records {
		out.Records[id] = rec.Clone()
	}
	return out
}

// ImportState replaces the store state with the provided snapshot. Records
// whose ID field is empty take the map key as their ID.
func (s *Store) ImportState(snapshot Snapshot) {
	records := make(map[string]Record, len(snapshot.Records))
	for id, rec := range snapshot.Records {
		if rec.ID == "" {
			rec.ID = id
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		records[id] = rec.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}
