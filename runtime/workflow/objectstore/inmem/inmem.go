// Package inmem provides an in-memory implementation of objectstore.Store for
// testing and local development. Objects are held in a map with no durability
// across process restarts; production deployments should use a durable backend
// such as features/objectstore/redis.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
)

type (
	// Store implements objectstore.Store in memory. All operations are
	// thread-safe; stored bytes are defensively copied on write and read.
	Store struct {
		mu      sync.RWMutex
		objects map[key]entry
	}

	key struct {
		org string
		id  string
	}

	entry struct {
		data []byte
		meta objectstore.Metadata
	}
)

// New constructs an empty Store ready for use.
func New() *Store {
	return &Store{objects: make(map[key]entry)}
}

// Put stores the bytes under a fresh UUID and returns it.
func (s *Store) Put(_ context.Context, orgID string, data []byte, mimeType, executionID string) (string, error) {
	if orgID == "" {
		return "", fmt.Errorf("organization id is required")
	}
	id := uuid.NewString()
	copied := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[key{org: orgID, id: id}] = entry{
		data: copied,
		meta: objectstore.Metadata{
			ID:             id,
			MimeType:       mimeType,
			OrganizationID: orgID,
			ExecutionID:    executionID,
			Size:           int64(len(copied)),
			CreatedAt:      time.Now().UTC(),
		},
	}
	s.mu.Unlock()
	return id, nil
}

// Get returns a copy of the stored bytes and their MIME type.
func (s *Store) Get(_ context.Context, orgID, id string) ([]byte, string, error) {
	s.mu.RLock()
	e, ok := s.objects[key{org: orgID, id: id}]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", id, objectstore.ErrNotFound)
	}
	return append([]byte(nil), e.data...), e.meta.MimeType, nil
}

// PresignRead returns a memory:// URL embedding the expiry. The URL is only
// meaningful to tests; the in-memory store has no external surface.
func (s *Store) PresignRead(_ context.Context, orgID, id string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	e, ok := s.objects[key{org: orgID, id: id}]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s: %w", id, objectstore.ErrNotFound)
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?mimeType=%s&expires=%d", orgID, id, e.meta.MimeType, expires), nil
}

// Delete removes the object. Deleting a missing object is a no-op.
func (s *Store) Delete(_ context.Context, orgID, id string) error {
	s.mu.Lock()
	delete(s.objects, key{org: orgID, id: id})
	s.mu.Unlock()
	return nil
}

// Metadata returns the stored metadata for tests and tooling. Not part of the
// objectstore.Store interface.
func (s *Store) Metadata(orgID, id string) (objectstore.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[key{org: orgID, id: id}]
	return e.meta, ok
}

// Len reports the number of stored objects across all organizations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
