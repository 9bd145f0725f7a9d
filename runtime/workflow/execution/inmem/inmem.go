// Package inmem provides an in-memory implementation of execution.Store for
// testing and local development. Records are deep-copied on read and write so
// the engine's mutable record never aliases stored state. Production
// deployments should use a durable backend such as features/execution/mongo.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
)

// Store implements execution.Store in memory with no durability.
type Store struct {
	mu      sync.RWMutex
	records map[string]*execution.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*execution.Record)}
}

// Save inserts or replaces the record keyed by its ID.
func (s *Store) Save(_ context.Context, record *execution.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	s.mu.Lock()
	s.records[record.ID] = record.Clone()
	s.mu.Unlock()
	return nil
}

// Load retrieves a copy of the record for the given execution id.
func (s *Store) Load(_ context.Context, id string) (*execution.Record, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, execution.ErrNotFound)
	}
	return r.Clone(), nil
}

// ListByWorkflow returns up to limit records for the workflow, newest first.
func (s *Store) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*execution.Record, error) {
	s.mu.RLock()
	var out []*execution.Record
	for _, r := range s.records {
		if r.WorkflowID == workflowID {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reset clears all stored records. Useful in tests; not part of the
// execution.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = make(map[string]*execution.Record)
	s.mu.Unlock()
}
