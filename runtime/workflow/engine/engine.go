// Package engine exposes the top-level workflow execution API: submit a
// workflow for execution, stream its progress, inspect past executions, and
// cancel in-flight runs. The engine loads an immutable workflow snapshot,
// validates it, creates the execution record, drives the scheduler to a
// terminal status, and persists the final record exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/budget"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/executor"
	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
	"github.com/flowmesh/flowrun/runtime/workflow/scheduler"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
	"github.com/flowmesh/flowrun/runtime/workflow/telemetry"
	"github.com/flowmesh/flowrun/runtime/workflow/validate"
)

// Sentinel errors returned by Execute and Cancel.
var (
	// ErrBudgetExhausted indicates the organization has no remaining compute
	// budget at submission time.
	ErrBudgetExhausted = errors.New("compute budget exhausted")

	// ErrNotRunning indicates a cancel request for an execution that is not
	// in flight.
	ErrNotRunning = errors.New("execution is not running")
)

type (
	// ValidationError aggregates the structural problems found in a workflow.
	// Execute returns it instead of creating an execution record.
	ValidationError struct {
		// WorkflowID identifies the invalid workflow.
		WorkflowID string
		// Errors lists every problem found.
		Errors []validate.Error
	}

	// Options configures an Engine. Zero values select conservative defaults.
	Options struct {
		// Workflows loads workflow definitions.
		Workflows workflow.Store
		// Executions persists execution records.
		Executions execution.Store
		// Registry resolves node types.
		Registry *registry.Registry
		// Objects stores binary parameter payloads. May be nil when no
		// registered node handles binary kinds.
		Objects objectstore.Store
		// Meter enforces per-organization compute budgets. Nil disables
		// metering.
		Meter budget.Meter
		// Parallelism bounds concurrent node executions per run. Defaults
		// to 4.
		Parallelism int
		// NodeDeadline bounds each node invocation. Defaults to 5 minutes.
		NodeDeadline time.Duration
		// DispatchRate optionally throttles node dispatch across a run. Zero
		// disables throttling.
		DispatchRate rate.Limit
		// Logger, Metrics and Tracer default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Request describes one execution submission.
	Request struct {
		// WorkflowID selects the workflow to execute.
		WorkflowID string
		// OrganizationID scopes budget accounting and object store access.
		OrganizationID string
		// Parameters carries caller-supplied input values keyed by node id
		// then parameter name. May be nil.
		Parameters map[string]map[string]param.Value
		// Env exposes host-provided environment values to nodes. May be nil.
		Env map[string]any
		// Mode selects live or preview execution. Defaults to live.
		Mode node.Mode
		// Sink receives the execution's event stream. May be nil. The engine
		// emits the terminal event before Execute returns; the caller owns
		// the sink's lifecycle.
		Sink stream.Sink
		// Integrations resolves named integration clients for nodes. May be
		// nil.
		Integrations node.IntegrationLookup
	}

	// Engine coordinates workflow executions.
	Engine struct {
		opts Options

		mu      sync.Mutex
		running map[string]context.CancelFunc
	}
)

const (
	defaultParallelism  = 4
	defaultNodeDeadline = 5 * time.Minute
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(msgs, "; "))
}

// New constructs an Engine. Workflows, Executions and Registry are required;
// everything else has a usable default.
func New(opts Options) (*Engine, error) {
	if opts.Workflows == nil {
		return nil, errors.New("engine: workflow store is required")
	}
	if opts.Executions == nil {
		return nil, errors.New("engine: execution store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("engine: node registry is required")
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = defaultParallelism
	}
	if opts.NodeDeadline <= 0 {
		opts.NodeDeadline = defaultNodeDeadline
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Engine{opts: opts, running: make(map[string]context.CancelFunc)}, nil
}

// Execute runs the workflow to a terminal status and returns the final
// execution record. It blocks for the duration of the run; callers that
// stream progress run Execute on its own goroutine and consume the sink.
//
// Failure modes before an execution record exists: workflow.ErrNotFound when
// the workflow does not exist, *ValidationError when it is structurally
// invalid, and ErrBudgetExhausted when the organization has no budget left.
func (e *Engine) Execute(ctx context.Context, req Request) (*execution.Record, error) {
	started := time.Now()
	ctx, span := e.opts.Tracer.Start(ctx, "engine.execute")
	defer span.End()

	wf, err := e.opts.Workflows.Load(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", req.WorkflowID, err)
	}
	if verrs := validate.Workflow(wf); len(verrs) > 0 {
		return nil, &ValidationError{WorkflowID: wf.ID, Errors: verrs}
	}
	if e.opts.Meter != nil {
		remaining, err := e.opts.Meter.Remaining(ctx, req.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("budget check: %w", err)
		}
		if remaining <= 0 {
			return nil, ErrBudgetExhausted
		}
	}

	rec := newRecord(wf, req.OrganizationID)
	if err := e.opts.Executions.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save execution %s: %w", rec.ID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.track(rec.ID, cancel)
	defer e.untrack(rec.ID, cancel)

	rec.Status = execution.StatusExecuting
	if err := e.opts.Executions.Save(ctx, rec); err != nil {
		e.opts.Logger.Warn(ctx, "execution status save failed", "execution_id", rec.ID, "err", err)
	}
	e.opts.Logger.Info(ctx, "execution started",
		"execution_id", rec.ID,
		"workflow_id", wf.ID,
		"org_id", req.OrganizationID,
		"nodes", len(wf.Nodes),
	)

	emitter := stream.NewEmitter(rec.ID, req.Sink)
	exec := executor.New(executor.Config{
		Workflow:       wf,
		Registry:       e.opts.Registry,
		Objects:        e.opts.Objects,
		Parameters:     req.Parameters,
		Env:            req.Env,
		Integrations:   req.Integrations,
		OrganizationID: req.OrganizationID,
		ExecutionID:    rec.ID,
		Mode:           req.Mode,
		NodeDeadline:   e.opts.NodeDeadline,
		Logger:         e.opts.Logger,
		Tracer:         e.opts.Tracer,
	})
	var limiter *rate.Limiter
	if e.opts.DispatchRate > 0 {
		limiter = rate.NewLimiter(e.opts.DispatchRate, 1)
	}
	res := scheduler.New(scheduler.Config{
		Workflow:       wf,
		Executor:       exec,
		Emitter:        emitter,
		Meter:          e.opts.Meter,
		OrganizationID: req.OrganizationID,
		Parallelism:    e.opts.Parallelism,
		Limiter:        limiter,
		Logger:         e.opts.Logger,
	}).Run(runCtx)

	// Finalization must proceed even when the run context was cancelled.
	finCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	rec.Status = res.Status
	rec.NodeExecutions = res.Nodes
	rec.Usage = res.Usage
	rec.Error = res.Err
	rec.EndedAt = &now
	if err := e.opts.Executions.Save(finCtx, rec); err != nil {
		return nil, fmt.Errorf("finalize execution %s: %w", rec.ID, err)
	}

	if res.Status == execution.StatusError {
		if err := emitter.ExecutionError(finCtx, res.Err); err != nil {
			e.opts.Logger.Warn(finCtx, "terminal event emit failed", "execution_id", rec.ID, "err", err)
		}
	} else {
		if err := emitter.ExecutionComplete(finCtx, res.Status, res.Usage); err != nil {
			e.opts.Logger.Warn(finCtx, "terminal event emit failed", "execution_id", rec.ID, "err", err)
		}
	}

	e.opts.Metrics.IncCounter("workflow_executions_total", 1, "status", string(res.Status))
	e.opts.Metrics.RecordTimer("workflow_execution_duration", time.Since(started), "status", string(res.Status))
	e.opts.Logger.Info(finCtx, "execution finished",
		"execution_id", rec.ID,
		"status", string(res.Status),
		"usage", res.Usage,
		"duration", time.Since(started).String(),
	)
	return rec, nil
}

// Cancel requests cancellation of an in-flight execution. The run resolves
// asynchronously: in-flight nodes observe their cancelled contexts, the
// scheduler drains, and Execute persists the cancelled record. Returns
// ErrNotRunning when no execution with the given id is in flight.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	cancel, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel %s: %w", executionID, ErrNotRunning)
	}
	cancel()
	return nil
}

// Execution returns the stored record for the given execution id.
func (e *Engine) Execution(ctx context.Context, id string) (*execution.Record, error) {
	return e.opts.Executions.Load(ctx, id)
}

// Executions returns up to limit records for the workflow, newest first.
func (e *Engine) Executions(ctx context.Context, workflowID string, limit int) ([]*execution.Record, error) {
	return e.opts.Executions.ListByWorkflow(ctx, workflowID, limit)
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
	cancel()
}

func newRecord(wf *workflow.Workflow, orgID string) *execution.Record {
	nodes := make(map[string]*execution.NodeExecution, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodes[n.ID] = &execution.NodeExecution{NodeID: n.ID, Status: execution.NodeIdle}
	}
	return &execution.Record{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		OrganizationID: orgID,
		Status:         execution.StatusSubmitted,
		NodeExecutions: nodes,
		StartedAt:      time.Now().UTC(),
	}
}
