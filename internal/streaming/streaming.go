// Package streaming adapts a paginated Source into a single pull-based,
// back-pressured iterator. Go has no native async generator, so a
// buffered channel fed by a goroutine stands in for one.
package streaming

import "context"

// Source produces successive batches of T until it is exhausted. A
// zero-length batch with a nil error signals end of stream; a non-nil
// error ends the stream too, surfaced to the consumer via Err.
type Source[T any] interface {
	NextBatch(ctx context.Context) ([]T, error)
}

// item is one element delivered on Stream's channel: either a value or,
// at the end of the stream, a terminal error. Earlier designs for this
// adapter discarded NextBatch errors silently once the channel closed;
// this one surfaces the last error explicitly instead (decided redesign,
// see DESIGN.md).
type item[T any] struct {
	value T
	err   error
}

// Stream is a pull-based iterator over a Source's batches, flattened into
// individual values.
type Stream[T any] struct {
	ch  chan item[T]
	err error
}

// New starts a goroutine pulling batches from src until ctx is cancelled,
// src returns an error, or src returns an empty batch with a nil error.
func New[T any](ctx context.Context, src Source[T], bufSize int) *Stream[T] {
	if bufSize <= 0 {
		bufSize = 1
	}
	s := &Stream[T]{ch: make(chan item[T], bufSize)}

	go func() {
		defer close(s.ch)
		for {
			batch, err := src.NextBatch(ctx)
			for _, v := range batch {
				select {
				case s.ch <- item[T]{value: v}:
				case <-ctx.Done():
					s.ch <- item[T]{err: ctx.Err()}
					return
				}
			}
			if err != nil {
				s.ch <- item[T]{err: err}
				return
			}
			if len(batch) == 0 {
				return
			}
		}
	}()

	return s
}

// Next returns the next value, or ok=false once the stream ends. Callers
// must check Err after a false result to distinguish a clean end of
// stream from a failed NextBatch call; the error is never swallowed.
func (s *Stream[T]) Next() (T, bool) {
	v, open := <-s.ch
	if !open {
		var zero T
		return zero, false
	}
	if v.err != nil {
		s.err = v.err
		var zero T
		return zero, false
	}
	return v.value, true
}

// Err returns the error that ended the stream, if any. Must be called
// after Next returns ok=false.
func (s *Stream[T]) Err() error { return s.err }

// Collect drains the stream into a slice, returning whatever error ended
// it (nil on a clean end of stream).
func Collect[T any](s *Stream[T]) ([]T, error) {
	var out []T
	for {
		v, ok := s.Next()
		if !ok {
			return out, s.Err()
		}
		out = append(out, v)
	}
}
