package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metrics"
)

// Mode labels a unit of work in logs and metrics.
type Mode string

const (
	ModeWrite  Mode = "write"
	ModeRead   Mode = "read"
	ModeStream Mode = "stream"
)

// Runtime opens sessions on an adapter.
type Runtime struct {
	adapter Adapter
	loader  CacheLoader
	warm    bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCacheLoader sets the loader behind Session.Schemas.
func WithCacheLoader(l CacheLoader) Option {
	return func(rt *Runtime) { rt.loader = l }
}

// WithWarmCache loads the schema cache right after the search path is set.
func WithWarmCache(warm bool) Option {
	return func(rt *Runtime) { rt.warm = warm }
}

// New creates a runtime.
func New(adapter Adapter, opts ...Option) *Runtime {
	rt := &Runtime{adapter: adapter}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler is the body of a unit of work.
type Handler[T any] func(ctx context.Context, sess *Session) (T, error)

// Write runs fn in a transaction and commits when it succeeds. When fn or
// the commit fails the transaction is rolled back and fn's error is
// returned; a rollback failure is logged and never replaces it.
func Write[T any](ctx context.Context, rt *Runtime, namespace string, fn Handler[T]) (T, error) {
	var zero T
	start := time.Now()
	sess, err := rt.open(ctx, namespace)
	if err != nil {
		metrics.RecordTransaction(string(ModeWrite), "setup_failed", time.Since(start))
		return zero, err
	}
	outcome := "rollback"
	defer func() {
		rt.release(ctx, sess)
		metrics.RecordTransaction(string(ModeWrite), outcome, time.Since(start))
	}()

	result, err := fn(ctx, sess)
	if err != nil {
		rt.rollback(ctx, sess, err)
		return zero, err
	}
	// A failed commit has already ended the transaction; rolling back
	// afterwards would only report a second, misleading failure.
	if err := sess.Conn.Commit(ctx); err != nil {
		outcome = "commit_failed"
		sess.Logger(ctx).Warn("commit failed", zap.Error(err))
		return zero, fmt.Errorf("commit: %w", err)
	}
	outcome = "commit"
	sess.Logger(ctx).Debug("session committed")
	return result, nil
}

// Read runs fn in a transaction that is never committed. Closing the
// connection rolls it back, which is a no-op for a read-only unit of work.
func Read[T any](ctx context.Context, rt *Runtime, namespace string, fn Handler[T]) (T, error) {
	var zero T
	start := time.Now()
	sess, err := rt.open(ctx, namespace)
	if err != nil {
		metrics.RecordTransaction(string(ModeRead), "setup_failed", time.Since(start))
		return zero, err
	}
	defer func() {
		rt.release(ctx, sess)
		metrics.RecordTransaction(string(ModeRead), "released", time.Since(start))
	}()
	return fn(ctx, sess)
}

// open connects, begins a transaction and installs the search path.
func (rt *Runtime) open(ctx context.Context, namespace string) (*Session, error) {
	if namespace == "" {
		return nil, fmt.Errorf("empty namespace")
	}
	conn, err := rt.adapter.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sess := &Session{
		ID:        uuid.New(),
		Namespace: namespace,
		Conn:      conn,
		loader:    rt.loader,
	}
	metrics.SessionOpened()

	fail := func(step string, err error) (*Session, error) {
		rt.release(ctx, sess)
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := conn.Begin(ctx); err != nil {
		return fail("begin", err)
	}
	if err := conn.SetSearchPath(ctx, namespace); err != nil {
		return fail("set search path", err)
	}
	if rt.warm {
		if _, err := sess.Schemas(ctx); err != nil {
			return fail("load schemas", err)
		}
	}
	sess.Logger(ctx).Debug("session started")
	return sess, nil
}

func (rt *Runtime) rollback(ctx context.Context, sess *Session, cause error) {
	log := sess.Logger(ctx)
	if err := sess.Conn.Rollback(ctx); err != nil {
		log.Error("rollback failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	log.Debug("session rolled back", zap.NamedError("cause", cause))
}

func (rt *Runtime) release(ctx context.Context, sess *Session) {
	if err := sess.Conn.Close(); err != nil {
		logging.WithContext(ctx).Warn("connection close failed",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err),
		)
	}
	metrics.SessionClosed()
}
