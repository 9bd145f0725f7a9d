// Package stream provides the serialized lifecycle event stream for workflow
// executions. The engine converts executor callbacks into ordered events and
// writes them through a Sink; transports (SSE, Pulse, tests) implement Sink.
//
// Ordering contract: events for a given node obey start before terminal
// (complete or error); the terminal execution event is last. Every event
// carries a monotonic sequence number assigned by the Emitter so consumers
// can detect gaps.
//
// All event types implement the Event interface and are safe to send
// concurrently through a thread-safe Sink. Sinks are responsible for
// marshaling events into their wire format.
package stream

import (
	"context"
	"time"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

type (
	// EventType enumerates stream payload flavors.
	EventType string

	// Event describes one lifecycle update delivered through a Sink. Sinks
	// use the interface to marshal events generically; consumers type-assert
	// to concrete types for structured field access.
	Event interface {
		// Type returns the event type constant (e.g., EventNodeComplete).
		Type() EventType
		// ExecutionID returns the execution that produced the event. All
		// events of one execution share the same value.
		ExecutionID() string
		// Seq returns the monotonic per-execution sequence number.
		Seq() uint64
		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Sink delivers execution events to a transport. Implementations must be
	// thread-safe: the scheduler commits node results from a single
	// goroutine, but tests and composite sinks may fan out concurrently.
	//
	// Send should return an error if delivery fails; the engine logs the
	// failure and continues the execution (a slow or dead consumer never
	// aborts a run; it only loses events).
	Sink interface {
		// Send publishes an event to the sink's transport.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink. Idempotent.
		Close(ctx context.Context) error
	}

	// Base provides the default Event implementation. Concrete event types
	// embed it; field names are abbreviated because Base fields are set once
	// by the Emitter and read through the interface methods.
	Base struct {
		t   EventType
		e   string
		seq uint64
		p   any
	}

	// NodeStart signals that the executor claimed a node.
	NodeStart struct {
		Base
		Data NodeStartPayload
	}

	// NodeComplete signals that a node produced outputs. Outputs are in wire
	// form: binary values have already been written to the object store and
	// replaced by references.
	NodeComplete struct {
		Base
		Data NodeCompletePayload
	}

	// NodeError signals that a node failed.
	NodeError struct {
		Base
		Data NodeErrorPayload
	}

	// NodeSkip signals that an upstream failure prevented a node from
	// running.
	NodeSkip struct {
		Base
		Data NodeSkipPayload
	}

	// ExecutionComplete is the terminal event for successful, cancelled, and
	// exhausted executions. It is always last on the stream.
	ExecutionComplete struct {
		Base
		Data ExecutionCompletePayload
	}

	// ExecutionError is the terminal event when the execution itself failed
	// (a node error, or a write-side resource failure on termination).
	ExecutionError struct {
		Base
		Data ExecutionErrorPayload
	}

	// NodeStartPayload is the wire payload for node_start events.
	NodeStartPayload struct {
		NodeID    string    `json:"nodeId"`
		Timestamp time.Time `json:"timestamp"`
	}

	// NodeCompletePayload is the wire payload for node_complete events.
	NodeCompletePayload struct {
		NodeID    string                 `json:"nodeId"`
		Outputs   map[string]param.Value `json:"outputs,omitempty"`
		Timestamp time.Time              `json:"timestamp"`
	}

	// NodeErrorPayload is the wire payload for node_error events.
	NodeErrorPayload struct {
		NodeID    string    `json:"nodeId"`
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	}

	// NodeSkipPayload is the wire payload for node_skip events.
	NodeSkipPayload struct {
		NodeID    string    `json:"nodeId"`
		Reason    string    `json:"reason"`
		Timestamp time.Time `json:"timestamp"`
	}

	// ExecutionCompletePayload is the wire payload for execution_complete
	// events.
	ExecutionCompletePayload struct {
		ExecutionID string           `json:"executionId"`
		Status      execution.Status `json:"status"`
		Usage       int              `json:"usage"`
		Timestamp   time.Time        `json:"timestamp"`
	}

	// ExecutionErrorPayload is the wire payload for execution_error events.
	ExecutionErrorPayload struct {
		ExecutionID string    `json:"executionId"`
		Error       string    `json:"error"`
		Timestamp   time.Time `json:"timestamp"`
	}
)

const (
	// EventNodeStart signals the executor claimed a node.
	EventNodeStart EventType = "node-start"
	// EventNodeComplete signals a node produced outputs (wire form).
	EventNodeComplete EventType = "node-complete"
	// EventNodeError signals a node failed.
	EventNodeError EventType = "node-error"
	// EventNodeSkip signals a node was skipped due to an upstream failure.
	EventNodeSkip EventType = "node-skip"
	// EventExecutionComplete is the terminal event for non-failed executions.
	EventExecutionComplete EventType = "execution-complete"
	// EventExecutionError is the terminal event for failed executions.
	EventExecutionError EventType = "execution-error"
)

// NewBase constructs a Base event with the given type, execution id, sequence
// number, and payload.
func NewBase(t EventType, executionID string, seq uint64, payload any) Base {
	return Base{t: t, e: executionID, seq: seq, p: payload}
}

// Type implements Event.Type.
func (b Base) Type() EventType { return b.t }

// ExecutionID implements Event.ExecutionID.
func (b Base) ExecutionID() string { return b.e }

// Seq implements Event.Seq.
func (b Base) Seq() uint64 { return b.seq }

// Payload implements Event.Payload.
func (b Base) Payload() any { return b.p }
