package stream

import (
	"context"
	"errors"
	"sync"
)

type (
	// NoopSink discards all events. Used when a caller runs an execution
	// without observing its stream.
	NoopSink struct{}

	// ChannelSink buffers events on a bounded channel drained by a single
	// consumer (typically the SSE handler). Send blocks when the buffer is
	// full, applying backpressure to the scheduler; if the consumer
	// disconnects it must keep draining or close the sink so the execution
	// can finish.
	ChannelSink struct {
		ch     chan Event
		mu     sync.Mutex
		closed bool
	}

	// MultiSink fans events out to several sinks in order, stopping at the
	// first error.
	MultiSink struct {
		sinks []Sink
	}
)

// ErrSinkClosed is returned by Send after a sink has been closed.
var ErrSinkClosed = errors.New("stream sink closed")

// Send implements Sink.
func (NoopSink) Send(context.Context, Event) error { return nil }

// Close implements Sink.
func (NoopSink) Close(context.Context) error { return nil }

// NewChannelSink constructs a ChannelSink with the given buffer capacity.
// Capacities below one are raised to one.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the channel the consumer drains. The channel is closed by
// Close once no further events will be sent.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Send implements Sink. It blocks when the buffer is full until the consumer
// drains an event or ctx is done.
func (s *ChannelSink) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Sink. Idempotent; closes the events channel.
func (s *ChannelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Multi composes sinks into one. Nil sinks are dropped; an empty set behaves
// like NoopSink.
func Multi(sinks ...Sink) Sink {
	var kept []Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{sinks: kept}
}

// Send implements Sink.
func (m *MultiSink) Send(ctx context.Context, event Event) error {
	for _, s := range m.sinks {
		if err := s.Send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink. Closes every sink and returns the first error.
func (m *MultiSink) Close(ctx context.Context) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
