// Package mongo implements the execution store on MongoDB.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/flowmesh/flowrun/features/execution/mongo/clients/mongo"
	"github.com/flowmesh/flowrun/features/internal/retry"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
)

// Store implements execution.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Save inserts or replaces the record keyed by its ID. Transient write
// failures are retried with bounded backoff before surfacing.
func (s *Store) Save(ctx context.Context, record *execution.Record) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return s.client.SaveExecution(ctx, record)
	})
}

// Load retrieves the record for the given execution id.
func (s *Store) Load(ctx context.Context, id string) (*execution.Record, error) {
	var record *execution.Record
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.client.LoadExecution(ctx, id)
		if errors.Is(err, execution.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	return record, err
}

// ListByWorkflow returns up to limit records for the workflow, newest first.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*execution.Record, error) {
	var records []*execution.Record
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.client.ListExecutionsByWorkflow(ctx, workflowID, limit)
		return err
	})
	return records, err
}
