package txn

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/fruitsalade/tenantfs/internal/metrics"
)

// StreamHandler produces a lazy sequence read from the session.
type StreamHandler[T any] func(ctx context.Context, sess *Session) (iter.Seq2[T, error], error)

// Stream is a cursor over a read-only unit of work. The connection stays
// open while items are consumed and is released exactly once: when the
// sequence is drained, when it yields an error, or when Close is called.
// Callers must Close a stream they stop reading early.
type Stream[T any] struct {
	next    func() (T, error, bool)
	stop    func()
	release func()

	once sync.Once
	cur  T
	err  error
	done bool
}

// OpenStream starts a read-only unit of work and returns a cursor over the
// handler's sequence. If the handler fails the connection is released
// before OpenStream returns.
func OpenStream[T any](ctx context.Context, rt *Runtime, namespace string, fn StreamHandler[T]) (*Stream[T], error) {
	start := time.Now()
	sess, err := rt.open(ctx, namespace)
	if err != nil {
		metrics.RecordTransaction(string(ModeStream), "setup_failed", time.Since(start))
		return nil, err
	}
	release := func() {
		rt.release(ctx, sess)
		metrics.RecordTransaction(string(ModeStream), "released", time.Since(start))
	}

	seq, err := fn(ctx, sess)
	if err != nil {
		release()
		return nil, err
	}
	next, stop := iter.Pull2(seq)
	return &Stream[T]{next: next, stop: stop, release: release}, nil
}

// Next advances the cursor. It returns false at the end of the sequence or
// on error; in both cases the connection has already been released.
func (s *Stream[T]) Next() bool {
	if s.done {
		return false
	}
	v, err, ok := s.next()
	if !ok {
		s.Close()
		return false
	}
	if err != nil {
		s.err = err
		s.Close()
		return false
	}
	s.cur = v
	return true
}

// Value returns the current item.
func (s *Stream[T]) Value() T {
	return s.cur
}

// Err returns the error that ended the sequence, if any.
func (s *Stream[T]) Err() error {
	return s.err
}

// Close stops the sequence and releases the connection. It is safe to call
// more than once.
func (s *Stream[T]) Close() error {
	s.once.Do(func() {
		s.done = true
		s.stop()
		s.release()
	})
	return nil
}

// All adapts the cursor to a range-over-func sequence. The stream is closed
// when the loop ends, including on break.
func (s *Stream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.cur, nil) {
				return
			}
		}
		if s.err != nil {
			var zero T
			yield(zero, s.err)
		}
	}
}

// Collect drains the stream into a slice.
func (s *Stream[T]) Collect() ([]T, error) {
	defer s.Close()
	var out []T
	for s.Next() {
		out = append(out, s.cur)
	}
	return out, s.err
}
