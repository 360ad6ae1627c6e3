// Package seenstate persists which items of a source have already been notified.
//
// A SeenSet is loaded once at the start of a source's cycle, mutated in memory by the
// dispatcher and written back with a single Flush. Nothing else writes seen-state.
package seenstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/storage"
)

const keyPrefix = "state/seen/"

// PersistenceError wraps a failed load or flush of seen-state.
type PersistenceError struct {
	Target string
	Source string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("seen-state %s for %s/%s: %v", e.Op, e.Target, e.Source, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SeenSet is an insertion-ordered map of item id to SeenRecord.
type SeenSet struct {
	order   []string
	records map[string]models.SeenRecord
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{records: make(map[string]models.SeenRecord)}
}

// Contains returns the record stored for id.
func (s *SeenSet) Contains(id string) (models.SeenRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Commit upserts the record for id. An existing id keeps its insertion position.
func (s *SeenSet) Commit(id string, rec models.SeenRecord) {
	if _, ok := s.records[id]; !ok {
		s.order = append(s.order, id)
	}
	s.records[id] = rec
}

// EvictOverCapacity drops the oldest-inserted records until at most max remain and
// returns the evicted ids. A max of zero or less disables eviction.
func (s *SeenSet) EvictOverCapacity(max int) []string {
	if max <= 0 || len(s.order) <= max {
		return nil
	}
	n := len(s.order) - max
	evicted := make([]string, n)
	copy(evicted, s.order[:n])
	for _, id := range evicted {
		delete(s.records, id)
	}
	s.order = append([]string(nil), s.order[n:]...)
	return evicted
}

// Len returns the number of records.
func (s *SeenSet) Len() int { return len(s.order) }

// StickyCount returns how many records belong to sticky items.
func (s *SeenSet) StickyCount() int {
	n := 0
	for _, rec := range s.records {
		if rec.Sticky {
			n++
		}
	}
	return n
}

// IDs returns the ids in insertion order.
func (s *SeenSet) IDs() []string {
	return append([]string(nil), s.order...)
}

type entry struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Sticky      bool      `json:"sticky,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

type document struct {
	Version int     `json:"version"`
	Entries []entry `json:"entries"`
}

func (s *SeenSet) MarshalJSON() ([]byte, error) {
	doc := document{Version: 1, Entries: make([]entry, 0, len(s.order))}
	for _, id := range s.order {
		rec := s.records[id]
		doc.Entries = append(doc.Entries, entry{ID: id, Fingerprint: rec.Fingerprint, Sticky: rec.Sticky, SeenAt: rec.SeenAt})
	}
	return json.Marshal(doc)
}

func (s *SeenSet) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	s.order = nil
	s.records = make(map[string]models.SeenRecord, len(doc.Entries))
	for _, e := range doc.Entries {
		s.Commit(e.ID, models.SeenRecord{Fingerprint: e.Fingerprint, Sticky: e.Sticky, SeenAt: e.SeenAt})
	}
	return nil
}

// Store loads and flushes SeenSets through a storage backend, one key per (target, source).
type Store struct {
	backend storage.StorageInterface
}

// NewStore creates a Store on backend.
func NewStore(backend storage.StorageInterface) *Store {
	return &Store{backend: backend}
}

// Key returns the storage key of a (target, source) seen-set.
func Key(targetID, sourceID string) string {
	return keyPrefix + url.PathEscape(targetID) + "/" + url.PathEscape(sourceID) + ".json"
}

// Load reads the seen-set of a source. A source that has never been flushed yields an empty set.
func (s *Store) Load(targetID, sourceID string) (*SeenSet, error) {
	data, err := s.backend.Retrieve(Key(targetID, sourceID))
	if errors.Is(err, storage.ErrNotFound) {
		return NewSeenSet(), nil
	}
	if err != nil {
		return nil, &PersistenceError{Target: targetID, Source: sourceID, Op: "load", Err: err}
	}

	set := NewSeenSet()
	if err := json.Unmarshal(data, set); err != nil {
		return nil, &PersistenceError{Target: targetID, Source: sourceID, Op: "decode", Err: err}
	}
	return set, nil
}

// Flush writes the whole set in one Store call. On error the previously persisted state stays authoritative.
func (s *Store) Flush(targetID, sourceID string, set *SeenSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return &PersistenceError{Target: targetID, Source: sourceID, Op: "encode", Err: err}
	}
	if err := s.backend.Store(Key(targetID, sourceID), data); err != nil {
		return &PersistenceError{Target: targetID, Source: sourceID, Op: "flush", Err: err}
	}
	return nil
}

// Reset forgets everything seen for a source. Old items still listed upstream will be announced again.
func (s *Store) Reset(targetID, sourceID string) error {
	if err := s.backend.Delete(Key(targetID, sourceID)); err != nil {
		return &PersistenceError{Target: targetID, Source: sourceID, Op: "reset", Err: err}
	}
	return nil
}
