// Package execution defines the durable record of a workflow run: the
// execution metadata, the per-node results, and the Store interface the
// engine persists through. The record is created when an execution is
// submitted, mutated solely by the engine while the run progresses, and
// finalized exactly once on termination.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

// ErrNotFound indicates that no execution record exists for the given id.
var ErrNotFound = errors.New("execution not found")

type (
	// Status is the lifecycle state of an execution.
	Status string

	// NodeStatus is the lifecycle state of a single node within an execution.
	NodeStatus string

	// NodeExecution records the outcome of one node: its terminal status,
	// wire-form outputs on success, and the error message on failure.
	NodeExecution struct {
		// NodeID is the workflow-local node identifier.
		NodeID string `json:"node_id" bson:"node_id"`
		// Status is the node lifecycle state.
		Status NodeStatus `json:"status" bson:"status"`
		// Outputs holds the wire-form outputs on completion.
		Outputs map[string]param.Value `json:"outputs,omitempty" bson:"outputs,omitempty"`
		// Error carries the failure message for error status.
		Error string `json:"error,omitempty" bson:"error,omitempty"`
	}

	// Record captures persistent metadata for one execution.
	Record struct {
		// ID is the execution UUID.
		ID string `json:"id" bson:"id"`
		// WorkflowID identifies the executed workflow.
		WorkflowID string `json:"workflow_id" bson:"workflow_id"`
		// DeploymentID identifies the workflow deployment version, when the
		// authoring layer tracks deployments.
		DeploymentID string `json:"deployment_id,omitempty" bson:"deployment_id,omitempty"`
		// OrganizationID identifies the organization the execution ran under.
		OrganizationID string `json:"organization_id" bson:"organization_id"`
		// Status is the execution lifecycle state.
		Status Status `json:"status" bson:"status"`
		// NodeExecutions maps node id to its recorded outcome.
		NodeExecutions map[string]*NodeExecution `json:"node_executions,omitempty" bson:"node_executions,omitempty"`
		// Error carries the terminal failure message, if any.
		Error string `json:"error,omitempty" bson:"error,omitempty"`
		// StartedAt records when the execution was submitted.
		StartedAt time.Time `json:"started_at" bson:"started_at"`
		// EndedAt records termination. Nil while the execution is in flight.
		EndedAt *time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
		// Usage accumulates compute cost over successful node executions.
		Usage int `json:"usage" bson:"usage"`
	}

	// Store persists execution records. Save is idempotent by Record.ID;
	// partial updates are permitted while the execution is in flight and the
	// final state is written once on termination.
	Store interface {
		// Save inserts or replaces the record keyed by its ID.
		Save(ctx context.Context, record *Record) error
		// Load retrieves the record for the given execution id. Returns
		// ErrNotFound (possibly wrapped) when no record exists.
		Load(ctx context.Context, id string) (*Record, error)
		// ListByWorkflow returns up to limit records for the workflow,
		// newest first.
		ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*Record, error)
	}
)

const (
	// StatusIdle indicates the record exists but execution has not been
	// submitted.
	StatusIdle Status = "idle"
	// StatusSubmitted indicates the execution has been accepted but
	// scheduling has not begun.
	StatusSubmitted Status = "submitted"
	// StatusExecuting indicates nodes are being scheduled and run.
	StatusExecuting Status = "executing"
	// StatusCompleted indicates every node terminated and none failed.
	StatusCompleted Status = "completed"
	// StatusError indicates at least one node ended in error.
	StatusError Status = "error"
	// StatusCancelled indicates the caller requested cancellation and it took
	// effect.
	StatusCancelled Status = "cancelled"
	// StatusExhausted indicates the organization's compute budget was
	// depleted mid-run.
	StatusExhausted Status = "exhausted"
)

const (
	// NodeIdle indicates the node has not been claimed by the executor.
	NodeIdle NodeStatus = "idle"
	// NodeExecuting indicates the executor has claimed the node.
	NodeExecuting NodeStatus = "executing"
	// NodeCompleted indicates the node produced outputs.
	NodeCompleted NodeStatus = "completed"
	// NodeError indicates the node failed.
	NodeError NodeStatus = "error"
	// NodeSkipped indicates an upstream failure prevented the node from
	// running.
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the status is a terminal execution state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusExhausted:
		return true
	}
	return false
}

// Clone returns a deep copy of the record so stores and callers never share
// mutable node execution maps.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if r.NodeExecutions != nil {
		out.NodeExecutions = make(map[string]*NodeExecution, len(r.NodeExecutions))
		for id, ne := range r.NodeExecutions {
			copied := *ne
			if ne.Outputs != nil {
				copied.Outputs = make(map[string]param.Value, len(ne.Outputs))
				for k, v := range ne.Outputs {
					copied.Outputs[k] = v
				}
			}
			out.NodeExecutions[id] = &copied
		}
	}
	return &out
}
