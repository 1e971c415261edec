package message

import (
	"context"
	"io"
)

// Stream is a lazy, finite, non-restartable sequence of deltas.
// Next returns io.EOF once the sequence is exhausted. Implementations must
// stop producing once ctx is cancelled.
type Stream interface {
	Next(ctx context.Context) (Delta, error)
}

// StreamFunc adapts a function to the Stream interface.
type StreamFunc func(ctx context.Context) (Delta, error)

// Next calls f.
func (f StreamFunc) Next(ctx context.Context) (Delta, error) {
	return f(ctx)
}

// StreamOf returns a stream that yields the given deltas in order.
func StreamOf(deltas ...Delta) Stream {
	i := 0
	return StreamFunc(func(ctx context.Context) (Delta, error) {
		if err := ctx.Err(); err != nil {
			return Delta{}, err
		}
		if i >= len(deltas) {
			return Delta{}, io.EOF
		}
		d := deltas[i]
		i++
		return d, nil
	})
}

// ChanStream returns a stream that yields deltas received from ch until ch
// is closed.
func ChanStream(ch <-chan Delta) Stream {
	return StreamFunc(func(ctx context.Context) (Delta, error) {
		select {
		case <-ctx.Done():
			return Delta{}, ctx.Err()
		case d, ok := <-ch:
			if !ok {
				return Delta{}, io.EOF
			}
			return d, nil
		}
	})
}

// Drain consumes s to exhaustion, calling fn for every delta.
// It returns nil when the stream ends with io.EOF.
func Drain(ctx context.Context, s Stream, fn func(Delta) error) error {
	for {
		d, err := s.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

// Collect consumes s and folds every delta into a single message.
// The result is marked complete only if the stream ended cleanly.
func Collect(ctx context.Context, s Stream) (Message, error) {
	var m Message
	err := Drain(ctx, s, func(d Delta) error {
		Merge(&m, d)
		return nil
	})
	m.Complete = err == nil
	return m, err
}
