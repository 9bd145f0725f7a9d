package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) Send(_ context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) Close(context.Context) error { return nil }

func TestEmitterAssignsSequenceFromOne(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	em := NewEmitter("exec-1", sink)

	require.NoError(t, em.NodeStart(ctx, "a"))
	require.NoError(t, em.NodeComplete(ctx, "a", map[string]param.Value{
		"result": {Kind: param.Number, Data: 1.0},
	}))
	require.NoError(t, em.NodeError(ctx, "b", "boom"))
	require.NoError(t, em.NodeSkip(ctx, "c", "upstream failure"))
	require.NoError(t, em.ExecutionComplete(ctx, execution.StatusError, 1))

	require.Len(t, sink.events, 5)
	for i, ev := range sink.events {
		require.Equal(t, uint64(i+1), ev.Seq())
		require.Equal(t, "exec-1", ev.ExecutionID())
	}
	require.Equal(t, EventNodeStart, sink.events[0].Type())
	require.Equal(t, EventNodeComplete, sink.events[1].Type())
	require.Equal(t, EventNodeError, sink.events[2].Type())
	require.Equal(t, EventNodeSkip, sink.events[3].Type())
	require.Equal(t, EventExecutionComplete, sink.events[4].Type())

	skip := sink.events[3].Payload().(NodeSkipPayload)
	require.Equal(t, "c", skip.NodeID)
	require.Equal(t, "upstream failure", skip.Reason)

	done := sink.events[4].Payload().(ExecutionCompletePayload)
	require.Equal(t, execution.StatusError, done.Status)
	require.Equal(t, 1, done.Usage)
}

func TestEmitterNilSinkDiscards(t *testing.T) {
	em := NewEmitter("exec-1", nil)
	require.NoError(t, em.NodeStart(context.Background(), "a"))
	require.NoError(t, em.ExecutionError(context.Background(), "boom"))
}

func TestChannelSinkDelivery(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(2)
	em := NewEmitter("exec-1", sink)

	require.NoError(t, em.NodeStart(ctx, "a"))
	require.NoError(t, em.NodeComplete(ctx, "a", nil))
	require.NoError(t, sink.Close(ctx))

	var events []Event
	for ev := range sink.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
}

func TestChannelSinkSendAfterClose(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(1)
	require.NoError(t, sink.Close(ctx))
	require.NoError(t, sink.Close(ctx)) // idempotent

	em := NewEmitter("exec-1", sink)
	require.ErrorIs(t, em.NodeStart(ctx, "a"), ErrSinkClosed)
}

func TestChannelSinkBackpressure(t *testing.T) {
	sink := NewChannelSink(1)
	em := NewEmitter("exec-1", sink)

	require.NoError(t, em.NodeStart(context.Background(), "a"))

	// Buffer is full; a second send blocks until ctx is done.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, em.NodeStart(ctx, "b"), context.DeadlineExceeded)
}

func TestMultiSinkFansOut(t *testing.T) {
	ctx := context.Background()
	a, b := &captureSink{}, &captureSink{}
	em := NewEmitter("exec-1", Multi(a, nil, b))

	require.NoError(t, em.NodeStart(ctx, "n"))
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Equal(t, a.events[0].Seq(), b.events[0].Seq())
}
