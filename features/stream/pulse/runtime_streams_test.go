package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	clientspulse "github.com/flowmesh/flowrun/features/stream/pulse/clients/pulse"
)

func TestEngineStreamsSinkLifecycle(t *testing.T) {
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) {
		return &fakeStream{}, nil
	}}
	streams, err := NewEngineStreams(EngineStreamsOptions{Client: cli})
	require.NoError(t, err)
	require.NotNil(t, streams.Sink())
	require.NoError(t, streams.Close(context.Background()))
	require.True(t, cli.closed)
}

func TestEngineStreamsRequiresClient(t *testing.T) {
	_, err := NewEngineStreams(EngineStreamsOptions{})
	require.EqualError(t, err, "pulse client is required")
}

func TestEngineStreamsSubscriberUsesClient(t *testing.T) {
	eventCh := make(chan *streaming.Event)
	sink := &fakeSink{ch: eventCh}
	str := &fakeStream{sink: sink}
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) { return str, nil }}

	streams, err := NewEngineStreams(EngineStreamsOptions{Client: cli})
	require.NoError(t, err)

	sub, err := streams.NewSubscriber(SubscriberOptions{SinkName: "front", Buffer: 1})
	require.NoError(t, err)

	events, errs, stop, err := sub.Subscribe(context.Background(), "execution/test")
	require.NoError(t, err)
	close(eventCh)
	stop()

	select {
	case _, ok := <-events:
		require.False(t, ok, "expected closed events channel")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for events close")
	}
	select {
	case _, ok := <-errs:
		require.False(t, ok, "expected closed errs channel")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for errs close")
	}
}
