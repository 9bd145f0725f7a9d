// Package executor drives the execution of a single node: it materializes the
// node's inputs from literals, caller parameters, and upstream outputs,
// resolves object references to bytes, invokes the node implementation under
// the per-node deadline, validates and externalizes the outputs, and reports
// the outcome back to the scheduler.
//
// The executor never returns a Go error for node-level failures; every
// failure (bad input, node error, panic, timeout, cancellation) lands in the
// Outcome so the scheduler can apply skip propagation uniformly.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
	"github.com/flowmesh/flowrun/runtime/workflow/telemetry"
)

type (
	// Outputs indexes recorded wire-form outputs by node id then output name.
	// The scheduler owns the map; the executor only reads it.
	Outputs map[string]map[string]param.Value

	// Outcome is the terminal result of one node execution.
	Outcome struct {
		// Status is NodeCompleted or NodeError.
		Status execution.NodeStatus
		// Outputs holds the wire-form outputs on completion.
		Outputs map[string]param.Value
		// Err carries the failure message for NodeError.
		Err string
		// Usage is the compute cost consumed: the node's usage delta when
		// positive, otherwise the descriptor cost. Zero on failure.
		Usage int
	}

	// Config assembles the executor's collaborators and per-execution
	// context.
	Config struct {
		// Workflow is the immutable workflow snapshot.
		Workflow *workflow.Workflow
		// Registry resolves node types to descriptors and factories.
		Registry *registry.Registry
		// Objects resolves and stores binary parameter payloads. May be nil
		// for workflows without binary parameters.
		Objects objectstore.Store
		// Parameters carries caller-supplied input values keyed by node id
		// then parameter name.
		Parameters map[string]map[string]param.Value
		// Env exposes host-provided environment values to nodes.
		Env map[string]any
		// Integrations resolves named integration clients for nodes.
		Integrations node.IntegrationLookup
		// OrganizationID scopes object store access and budget accounting.
		OrganizationID string
		// ExecutionID tags objects produced by this execution.
		ExecutionID string
		// Mode distinguishes live executions from previews.
		Mode node.Mode
		// NodeDeadline bounds each node invocation. Zero means no deadline.
		NodeDeadline time.Duration
		// Logger and Tracer default to noop implementations when nil.
		Logger telemetry.Logger
		Tracer telemetry.Tracer
	}

	// Executor materializes inputs and runs nodes for one execution.
	Executor struct {
		cfg Config
	}
)

// Timeout and cancellation messages recorded on node executions.
const (
	timeoutMessage   = "timeout"
	cancelledMessage = "cancelled"
)

// New constructs an Executor. Nil logger and tracer default to noop
// implementations.
func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	if cfg.Mode == "" {
		cfg.Mode = node.ModeLive
	}
	return &Executor{cfg: cfg}
}

// Cost returns the compute cost the node will consume if it succeeds: the
// registry descriptor cost, or the engine default of one unit for unknown
// types (the unknown type then fails in Run).
func (x *Executor) Cost(n workflow.Node) int {
	if desc, ok := x.cfg.Registry.Descriptor(n.Type); ok {
		return desc.Cost()
	}
	return 1
}

// Run executes one node to completion. upstream holds the recorded wire-form
// outputs of every already-completed node; the scheduler guarantees all of
// the node's predecessors are present before dispatching.
func (x *Executor) Run(ctx context.Context, n workflow.Node, upstream Outputs) *Outcome {
	ctx, span := x.cfg.Tracer.Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("workflow.id", x.cfg.Workflow.ID),
			attribute.String("execution.id", x.cfg.ExecutionID),
			attribute.String("node.id", n.ID),
			attribute.String("node.type", n.Type),
		),
	)
	defer span.End()

	desc, factory, ok := x.cfg.Registry.Lookup(n.Type)
	if !ok {
		span.SetStatus(codes.Error, "unknown node type")
		return fail(fmt.Sprintf("unknown node type %q", n.Type))
	}

	inputs, err := x.materialize(ctx, n, upstream)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "materialize inputs failed")
		return fail(err.Error())
	}

	res := x.invoke(ctx, factory(), &node.Input{
		NodeID:         n.ID,
		WorkflowID:     x.cfg.Workflow.ID,
		ExecutionID:    x.cfg.ExecutionID,
		OrganizationID: x.cfg.OrganizationID,
		Mode:           x.cfg.Mode,
		Inputs:         inputs,
		Env:            x.cfg.Env,
		Objects:        x.cfg.Objects,
		Integrations:   x.cfg.Integrations,
	}, n)
	if res.Failed() {
		span.SetStatus(codes.Error, res.Err.Message)
		return fail(res.Err.Message)
	}

	wire, err := x.externalize(ctx, n, res.Outputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "externalize outputs failed")
		return fail(err.Error())
	}

	usage := res.UsageDelta
	if usage <= 0 {
		usage = desc.Cost()
	}
	span.SetStatus(codes.Ok, "ok")
	return &Outcome{Status: execution.NodeCompleted, Outputs: wire, Usage: usage}
}

// invoke calls the node with the per-node deadline and panic recovery. Nodes
// that ignore cancellation still run to completion on their goroutine; the
// executor discards their late result.
func (x *Executor) invoke(ctx context.Context, impl node.Node, in *node.Input, n workflow.Node) *node.Result {
	runCtx := ctx
	cancel := func() {}
	if x.cfg.NodeDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, x.cfg.NodeDeadline)
	}
	defer cancel()

	done := make(chan *node.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				x.cfg.Logger.Error(ctx, "node panicked",
					"node_id", n.ID,
					"node_type", n.Type,
					"panic", fmt.Sprint(r),
				)
				done <- node.Errorf("node panicked: %v", r)
			}
		}()
		done <- impl.Execute(runCtx, in)
	}()

	select {
	case res := <-done:
		if res == nil {
			return node.Errorf("node returned no result")
		}
		return res
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return node.Errorf(timeoutMessage)
		}
		return node.Errorf(cancelledMessage)
	}
}

// materialize builds the node's runtime input map. Merge order per input:
// declaration default, then the author's literal value, then caller-supplied
// parameters, then upstream outputs for edge-fed inputs (repeated inputs
// gather an ordered sequence by edge insertion order). Every value is
// converted to runtime form before the node sees it.
func (x *Executor) materialize(ctx context.Context, n workflow.Node, upstream Outputs) (map[string]param.Value, error) {
	inputs := make(map[string]param.Value, len(n.Inputs))
	for _, decl := range n.Inputs {
		if decl.Default != nil {
			inputs[decl.Name] = *decl.Default
		}
		if decl.Value != nil {
			inputs[decl.Name] = *decl.Value
		}
	}
	if callerParams := x.cfg.Parameters[n.ID]; callerParams != nil {
		for _, decl := range n.Inputs {
			v, ok := callerParams[decl.Name]
			if !ok {
				continue
			}
			if err := param.ValidateDecl(decl, v.Data); err != nil {
				return nil, fmt.Errorf("parameter %s.%s: %w", n.ID, decl.Name, err)
			}
			if v.Kind == "" {
				v.Kind = decl.Kind
			}
			inputs[decl.Name] = v
		}
	}
	if err := x.feed(n, upstream, inputs); err != nil {
		return nil, err
	}
	for name, v := range inputs {
		resolved, err := param.ToRuntime(ctx, v, x.cfg.Objects, x.cfg.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("input %s.%s: %w", n.ID, name, err)
		}
		inputs[name] = resolved
	}
	return inputs, nil
}

// feed overlays upstream outputs onto the node's edge-fed inputs. The
// scheduler guarantees every predecessor completed before dispatch, so a
// missing recorded output is an internal invariant violation.
func (x *Executor) feed(n workflow.Node, upstream Outputs, inputs map[string]param.Value) error {
	for _, decl := range n.Inputs {
		edges := incomingFor(x.cfg.Workflow, n.ID, decl.Name)
		if len(edges) == 0 {
			continue
		}
		if decl.Repeated {
			seq := make([]param.Value, 0, len(edges))
			for _, e := range edges {
				v, ok := upstream[e.SourceNode][e.SourceOutput]
				if !ok {
					return fmt.Errorf("input %s.%s: upstream output %s.%s not recorded", n.ID, decl.Name, e.SourceNode, e.SourceOutput)
				}
				seq = append(seq, v)
			}
			inputs[decl.Name] = param.Value{Kind: decl.Kind, Data: seq}
			continue
		}
		e := edges[0]
		v, ok := upstream[e.SourceNode][e.SourceOutput]
		if !ok {
			return fmt.Errorf("input %s.%s: upstream output %s.%s not recorded", n.ID, decl.Name, e.SourceNode, e.SourceOutput)
		}
		inputs[decl.Name] = v
	}
	return nil
}

// externalize validates node outputs against their declarations and converts
// runtime binary payloads to wire references, writing bytes to the object
// store tagged with this execution.
func (x *Executor) externalize(ctx context.Context, n workflow.Node, outputs map[string]param.Value) (map[string]param.Value, error) {
	wire := make(map[string]param.Value, len(outputs))
	for name, v := range outputs {
		decl := n.Output(name)
		if decl == nil {
			return nil, fmt.Errorf("node %s produced undeclared output %q", n.ID, name)
		}
		if v.Kind == "" {
			v.Kind = decl.Kind
		}
		if err := param.Validate(decl.Kind, v.Data); err != nil {
			return nil, fmt.Errorf("output %s.%s: %w", n.ID, name, err)
		}
		converted, err := param.ToWire(ctx, v, x.cfg.Objects, x.cfg.OrganizationID, x.cfg.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("output %s.%s: %w", n.ID, name, err)
		}
		wire[name] = converted
	}
	return wire, nil
}

func incomingFor(wf *workflow.Workflow, nodeID, input string) []workflow.Edge {
	var edges []workflow.Edge
	for _, e := range wf.Edges {
		if e.TargetNode == nodeID && e.TargetInput == input {
			edges = append(edges, e)
		}
	}
	return edges
}

func fail(message string) *Outcome {
	return &Outcome{Status: execution.NodeError, Err: message}
}
