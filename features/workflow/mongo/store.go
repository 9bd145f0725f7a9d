// Package mongo implements the workflow store on MongoDB.
package mongo

import (
	"context"
	"errors"

	"github.com/flowmesh/flowrun/features/internal/retry"
	clientsmongo "github.com/flowmesh/flowrun/features/workflow/mongo/clients/mongo"
	"github.com/flowmesh/flowrun/runtime/workflow"
)

// Store implements workflow.Store by delegating to the Mongo client.
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

// Load retrieves the workflow with the given ID. Transient read failures are
// retried with bounded backoff before surfacing.
func (s *Store) Load(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf *workflow.Workflow
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		wf, err = s.client.LoadWorkflow(ctx, id)
		if errors.Is(err, workflow.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	return wf, err
}

// Save stores a workflow definition.
func (s *Store) Save(ctx context.Context, wf *workflow.Workflow) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return s.client.SaveWorkflow(ctx, wf)
	})
}
