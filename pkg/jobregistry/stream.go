package jobregistry

import (
	"context"
)

// Sink receives the events of one stream. Send blocks until the event is
// written; an error ends the stream.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Send calls f(ev).
func (f SinkFunc) Send(ev Event) error { return f(ev) }

// Stream forwards the lifecycle of job id to sink until the job ends.
//
// An in-progress job first yields a progress event with its current state,
// then every event as it happens; the stream ends after a terminal or
// cleanup event. A job that is already terminal yields only its terminal
// event. Unknown ids return ErrJobNotFound and send nothing.
//
// Cancelling ctx (the consumer went away) or a failing Send detaches the
// stream; the job keeps running.
func Stream(ctx context.Context, reg *Registry, id string, sink Sink) error {
	snap, sub, err := reg.Subscribe(id)
	if err != nil {
		return err
	}

	if sub == nil {
		ev, _ := snap.TerminalEvent()
		return sink.Send(ev)
	}
	defer sub.Close()

	if err := sink.Send(snap.ProgressEvent()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := sink.Send(ev); err != nil {
				return err
			}
			if ev.Type.EndsStream() {
				return nil
			}
		}
	}
}
