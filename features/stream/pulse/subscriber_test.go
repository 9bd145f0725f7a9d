package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	clientspulse "github.com/flowmesh/flowrun/features/stream/pulse/clients/pulse"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	ctx := context.Background()
	eventCh := make(chan *streaming.Event, 1)
	sink := &fakeSink{ch: eventCh}
	str := &fakeStream{sink: sink}
	cli := &fakeClient{stream: func(name string) (clientspulse.Stream, error) {
		require.Equal(t, "execution/exec-123", name)
		return str, nil
	}}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(ctx, "execution/exec-123")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"type":         "node-complete",
		"execution_id": "exec-123",
		"seq":          3,
		"timestamp":    time.Now().UTC(),
		"payload":      map[string]any{"node_id": "n1"},
	})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	var received []stream.Event
	for e := range events {
		received = append(received, e)
	}
	require.Len(t, received, 1)
	e := received[0]
	require.Equal(t, stream.EventNodeComplete, e.Type())
	require.Equal(t, "exec-123", e.ExecutionID())
	require.Equal(t, uint64(3), e.Seq())
	var body map[string]any
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, "n1", body["node_id"])
	require.Empty(t, errs)
	require.Equal(t, []string{"1-0"}, sink.acked)
}

func TestSubscribeDecoderError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sink := &fakeSink{ch: eventCh}
	str := &fakeStream{sink: sink}
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) { return str, nil }}

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "execution/exec-1")
	require.NoError(t, err)
	defer cancel()
	eventCh <- &streaming.Event{Payload: []byte("{}")}
	close(eventCh)

	require.Empty(t, events)
	require.EqualError(t, <-errs, "pulse decode payload: decode error")
}

func TestSubscribeSinkCreationError(t *testing.T) {
	str := &fakeStream{sinkErr: errors.New("no sink")}
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) { return str, nil }}
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)
	_, _, _, err = sub.Subscribe(context.Background(), "execution/exec-1")
	require.EqualError(t, err, "no sink")
}

func TestSubscribeAckError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	sink := &fakeSink{ch: eventCh, ackErr: errors.New("ack-failed")}
	str := &fakeStream{sink: sink}
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) { return str, nil }}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 1})
	require.NoError(t, err)
	events, errs, cancel, err := sub.Subscribe(context.Background(), "execution/exec-1")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{"type": "node-start", "execution_id": "exec-1", "seq": 1})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	<-events
	require.EqualError(t, <-errs, "pulse ack: ack-failed")
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	_, err := decodeEnvelope([]byte("not json"))
	require.Error(t, err)
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}
