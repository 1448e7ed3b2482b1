// Package featurestore keeps the append-only, insertion-ordered log of
// response records a session accumulates. Single writer (the dispatch
// loop), concurrent readers (the prioritizer's training pass).
package featurestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Store is the in-memory record log. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	records []schemas.ResponseRecord
}

func New() *Store {
	return &Store{records: make([]schemas.ResponseRecord, 0, 256)}
}

// Append adds one fully-formed record. It is the only mutator; records are
// never updated or deleted afterwards.
func (s *Store) Append(rec schemas.ResponseRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Len returns the number of records appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a consistent point-in-time copy in insertion order. Safe
// to call concurrently with Append; a reader never observes a torn append.
func (s *Store) Snapshot() []schemas.ResponseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.ResponseRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Stream exposes the record sequence to reporting collaborators as a lazy,
// restartable channel over a snapshot. Each call starts a fresh pass.
func (s *Store) Stream(ctx context.Context) <-chan schemas.ResponseRecord {
	snapshot := s.Snapshot()
	out := make(chan schemas.ResponseRecord)
	go func() {
		defer close(out)
		for _, rec := range snapshot {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Export writes the full record sequence as JSON, preserving insertion
// order. Together with Import this gives the audit round-trip property.
func (s *Store) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("exporting feature store: %w", err)
	}
	return nil
}

// Import loads a previously exported record sequence, replacing current
// contents. Intended for seeding a prioritizer from an earlier session's
// data and for the report command.
func (s *Store) Import(r io.Reader) error {
	var records []schemas.ResponseRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return fmt.Errorf("importing feature store: %w", err)
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}
