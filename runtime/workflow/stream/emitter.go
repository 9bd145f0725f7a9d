package stream

import (
	"context"
	"sync"
	"time"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

// Emitter converts scheduler callbacks into ordered stream events. It assigns
// the monotonic sequence number, stamps timestamps, and forwards to the
// configured Sink. The zero sequence is never used; the first event is 1.
//
// Emitter is safe for concurrent use, though the scheduler commits results
// from a single goroutine so events are already linearized when they arrive.
type Emitter struct {
	mu          sync.Mutex
	sink        Sink
	executionID string
	seq         uint64
	now         func() time.Time
}

// NewEmitter constructs an Emitter bound to one execution. A nil sink
// discards all events.
func NewEmitter(executionID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Emitter{sink: sink, executionID: executionID, now: time.Now}
}

// NodeStart emits a node-start event.
func (em *Emitter) NodeStart(ctx context.Context, nodeID string) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := NodeStartPayload{NodeID: nodeID, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, NodeStart{Base: NewBase(EventNodeStart, em.executionID, em.seq, p), Data: p})
}

// NodeComplete emits a node-complete event with wire-form outputs.
func (em *Emitter) NodeComplete(ctx context.Context, nodeID string, outputs map[string]param.Value) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := NodeCompletePayload{NodeID: nodeID, Outputs: outputs, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, NodeComplete{Base: NewBase(EventNodeComplete, em.executionID, em.seq, p), Data: p})
}

// NodeError emits a node-error event.
func (em *Emitter) NodeError(ctx context.Context, nodeID, message string) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := NodeErrorPayload{NodeID: nodeID, Error: message, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, NodeError{Base: NewBase(EventNodeError, em.executionID, em.seq, p), Data: p})
}

// NodeSkip emits a node-skip event.
func (em *Emitter) NodeSkip(ctx context.Context, nodeID, reason string) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := NodeSkipPayload{NodeID: nodeID, Reason: reason, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, NodeSkip{Base: NewBase(EventNodeSkip, em.executionID, em.seq, p), Data: p})
}

// ExecutionComplete emits the terminal execution-complete event.
func (em *Emitter) ExecutionComplete(ctx context.Context, status execution.Status, usage int) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := ExecutionCompletePayload{ExecutionID: em.executionID, Status: status, Usage: usage, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, ExecutionComplete{Base: NewBase(EventExecutionComplete, em.executionID, em.seq, p), Data: p})
}

// ExecutionError emits the terminal execution-error event.
func (em *Emitter) ExecutionError(ctx context.Context, message string) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.seq++
	p := ExecutionErrorPayload{ExecutionID: em.executionID, Error: message, Timestamp: em.now().UTC()}
	return em.sink.Send(ctx, ExecutionError{Base: NewBase(EventExecutionError, em.executionID, em.seq, p), Data: p})
}
