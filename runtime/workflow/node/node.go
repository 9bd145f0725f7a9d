// Package node defines the uniform contract every executable workflow node
// implements: a single blocking Execute call that receives typed inputs and
// returns either a set of outputs or an error. Nodes never panic or return Go
// errors to the scheduler; failures are carried in the Result so the scheduler
// can apply skip propagation without unwinding.
package node

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

type (
	// Mode distinguishes live executions from authoring-time previews. Nodes
	// with side effects (sending email, writing to integrations) should no-op
	// or stub their effects in preview mode.
	Mode string

	// IntegrationLookup resolves a named third-party integration client for
	// the executing organization. Nil when the host does not provide
	// integrations.
	IntegrationLookup func(name string) (any, error)

	// Input carries everything a node needs for one execution. All
	// per-execution state flows through this value; node implementations must
	// not retain it past the Execute call.
	Input struct {
		// NodeID is the executing node's workflow-local identifier.
		NodeID string
		// WorkflowID identifies the owning workflow.
		WorkflowID string
		// ExecutionID identifies the current execution.
		ExecutionID string
		// OrganizationID identifies the organization the execution runs under.
		OrganizationID string
		// Mode distinguishes live executions from previews.
		Mode Mode
		// Inputs holds the materialized input values keyed by parameter name.
		// Binary kinds are in runtime form ({data, mimeType}); repeated
		// inputs carry a []param.Value payload ordered by edge insertion.
		Inputs map[string]param.Value
		// Env exposes host-provided environment values. The engine itself
		// populates nothing here; specific nodes consume specific keys.
		Env map[string]any
		// Objects is the object store for nodes that need direct access
		// (e.g., to presign URLs for external services). May be nil.
		Objects objectstore.Store
		// Integrations resolves named integration clients. May be nil.
		Integrations IntegrationLookup
	}

	// Result is the outcome of one node execution: either Outputs or Err is
	// set, never both.
	Result struct {
		// Outputs holds the produced values keyed by output parameter name.
		// Binary kinds are in runtime form; the executor converts them to
		// wire form before they leave the process.
		Outputs map[string]param.Value
		// UsageDelta overrides the descriptor's compute cost for this
		// execution when positive. Zero means use the descriptor cost.
		UsageDelta int
		// Err carries the failure when the node did not complete.
		Err *Error
	}

	// Error is a node-level failure message surfaced to the scheduler and
	// recorded on the node execution.
	Error struct {
		Message string `json:"message"`
	}

	// Node is the executable contract. One call, one result: implementations
	// block until done, honor ctx cancellation and deadlines, and translate
	// their own failures into Result.Err.
	Node interface {
		Execute(ctx context.Context, in *Input) *Result
	}

	// Func adapts a plain function to the Node interface.
	Func func(ctx context.Context, in *Input) *Result
)

const (
	// ModeLive marks a real execution with full side effects.
	ModeLive Mode = "live"
	// ModePreview marks an authoring-time dry run.
	ModePreview Mode = "preview"
)

// Execute implements Node.
func (f Func) Execute(ctx context.Context, in *Input) *Result {
	return f(ctx, in)
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Success builds a successful result with the given outputs.
func Success(outputs map[string]param.Value) *Result {
	return &Result{Outputs: outputs}
}

// SuccessWithUsage builds a successful result that reports a custom compute
// cost for this execution.
func SuccessWithUsage(outputs map[string]param.Value, usage int) *Result {
	return &Result{Outputs: outputs, UsageDelta: usage}
}

// Errorf builds a failed result with a formatted message.
func Errorf(format string, args ...any) *Result {
	return &Result{Err: &Error{Message: fmt.Sprintf(format, args...)}}
}

// ErrorFrom builds a failed result from a Go error.
func ErrorFrom(err error) *Result {
	if err == nil {
		return Errorf("unknown error")
	}
	return &Result{Err: &Error{Message: err.Error()}}
}

// Failed reports whether the result carries an error.
func (r *Result) Failed() bool { return r != nil && r.Err != nil }

// Input returns the named input value. The second return reports presence.
func (in *Input) Input(name string) (param.Value, bool) {
	v, ok := in.Inputs[name]
	return v, ok
}

// Number returns the named input coerced to float64. Missing or non-numeric
// inputs yield an error result for the caller to return directly.
func (in *Input) Number(name string) (float64, *Result) {
	v, ok := in.Inputs[name]
	if !ok || v.Data == nil {
		return 0, Errorf("missing required input %q", name)
	}
	f, ok := param.Float64(v.Data)
	if !ok {
		return 0, Errorf("input %q is not a number", name)
	}
	return f, nil
}

// String returns the named input as a string.
func (in *Input) String(name string) (string, *Result) {
	v, ok := in.Inputs[name]
	if !ok || v.Data == nil {
		return "", Errorf("missing required input %q", name)
	}
	s, ok := v.Data.(string)
	if !ok {
		return "", Errorf("input %q is not a string", name)
	}
	return s, nil
}

// Repeated returns the named repeated input as an ordered sequence. A missing
// input yields an empty slice.
func (in *Input) Repeated(name string) []param.Value {
	v, ok := in.Inputs[name]
	if !ok {
		return nil
	}
	list, _ := v.Data.([]param.Value)
	return list
}
