package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/harun/agui-bridge/pkg/agui"
)

// Emit hands one event to the consumer. It blocks until the event is taken
// and fails once the stream has been closed.
type Emit func(agui.Event) error

// Stream is an iterator over the events of one run.
type Stream struct {
	events    chan agui.Event
	cancel    context.CancelFunc
	current   agui.Event
	err       error
	done      bool
	closeOnce sync.Once
}

// PanicError is returned by Err when the producer panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("agent panic: %v", e.Value)
}

// NewStream runs produce on its own goroutine. Events pass through an
// unbuffered channel, so produce blocks in emit until Next takes each one.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan agui.Event),
		cancel: cancel,
	}

	emit := func(evt agui.Event) error {
		select {
		case s.events <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(s.events)
		s.err = runProducer(ctx, produce, emit)
	}()

	return s
}

func runProducer(ctx context.Context, produce func(context.Context, Emit) error, emit Emit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return produce(ctx, emit)
}

// Next advances to the next event. It returns false once the producer has
// finished; check Err afterwards.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	evt, ok := <-s.events
	if !ok {
		s.done = true
		return false
	}
	s.current = evt
	return true
}

// Current returns the event read by the last successful Next.
func (s *Stream) Current() agui.Event {
	return s.current
}

// Err returns the producer's error. It is only meaningful after Next has
// returned false.
func (s *Stream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Close cancels the producer and waits for it to return. It is safe to call
// more than once and after the stream is exhausted.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
		s.done = true
	})
}

// Events returns a stream that yields evts in order and then ends with err.
func Events(ctx context.Context, err error, evts ...agui.Event) *Stream {
	return NewStream(ctx, func(ctx context.Context, emit Emit) error {
		for _, evt := range evts {
			if e := emit(evt); e != nil {
				return e
			}
		}
		return err
	})
}
