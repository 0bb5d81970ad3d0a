// Package txn runs units of work against one tenant namespace.
//
// Each unit of work holds a dedicated connection for its whole lifetime.
// The tenant namespace is installed as the search path with transaction
// scope, so it reverts on commit or rollback and a pooled connection can
// never carry one tenant's search path into another request.
package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

// Conn is one dedicated database connection.
type Conn interface {
	Begin(ctx context.Context) error
	// SetSearchPath scopes unqualified lookups to namespace until the
	// current transaction ends.
	SetSearchPath(ctx context.Context, namespace string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases the connection. An open transaction is rolled back.
	Close() error
}

// Adapter hands out connections.
type Adapter interface {
	Connect(ctx context.Context) (Conn, error)
}

// CacheLoader reads the schema definitions visible in a session.
type CacheLoader func(ctx context.Context, sess *Session) (*schema.Cache, error)

// Session is the state of one unit of work. It is never shared between
// requests.
type Session struct {
	ID        uuid.UUID
	Namespace string
	Conn      Conn

	loader   CacheLoader
	mu       sync.Mutex
	loaded   bool
	cache    *schema.Cache
	cacheErr error
}

// Schemas returns the session's schema cache, loading it on first use.
// The loader runs at most once per session.
func (s *Session) Schemas(ctx context.Context) (*schema.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cache, s.cacheErr
	}
	s.loaded = true
	if s.loader == nil {
		s.cache = schema.NewCache(nil)
		return s.cache, nil
	}
	s.cache, s.cacheErr = s.loader(ctx, s)
	return s.cache, s.cacheErr
}

// Logger returns a logger tagged with the session id and namespace.
func (s *Session) Logger(ctx context.Context) *zap.Logger {
	return logging.WithContext(ctx).With(
		zap.String("session_id", s.ID.String()),
		zap.String("namespace", s.Namespace),
	)
}
