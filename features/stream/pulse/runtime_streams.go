package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/flowmesh/flowrun/features/stream/pulse/clients/pulse"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
)

// EngineStreams wires a caller-provided Pulse client into the engine. It owns
// a publishing sink (handed to engine requests) and can spawn subscribers
// that reuse the same client so services do not need to manage multiple Pulse
// connections.
type EngineStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// EngineStreamsOptions configures the helper returned by NewEngineStreams.
type EngineStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It
	// is required and typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID
	// derivation, marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewEngineStreams constructs helpers for publishing execution events to
// Pulse and subscribing to the resulting streams. Callers pass the returned
// sink on engine requests and keep the helper around to create subscribers
// (e.g., SSE fan-out) later on.
func NewEngineStreams(opts EngineStreamsOptions) (*EngineStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &EngineStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can pass it on engine requests.
func (r *EngineStreams) Sink() stream.Sink {
	return r.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool for efficiency.
func (r *EngineStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = r.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (r *EngineStreams) Close(ctx context.Context) error {
	return r.sink.Close(ctx)
}
