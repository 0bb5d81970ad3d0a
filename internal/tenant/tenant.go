// Package tenant maps tenant names to their database namespaces.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metrics"
)

// ErrUnknownTenant is returned for names with no active namespace.
var ErrUnknownTenant = errors.New("unknown tenant")

// DefaultTTL is how long a resolved namespace is reused.
const DefaultTTL = time.Minute

// Source looks up the namespace of a tenant.
type Source interface {
	Namespace(ctx context.Context, tenant string) (string, error)
}

// Static is a fixed tenant→namespace table.
type Static map[string]string

// Namespace implements Source.
func (s Static) Namespace(_ context.Context, tenant string) (string, error) {
	ns, ok := s[tenant]
	if !ok {
		return "", ErrUnknownTenant
	}
	return ns, nil
}

// Postgres reads public.tenants.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a source over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Namespace implements Source.
func (p *Postgres) Namespace(ctx context.Context, tenant string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("resolve_tenant", time.Since(start)) }()

	var ns string
	err := p.db.QueryRowContext(ctx,
		`SELECT namespace FROM public.tenants WHERE name = $1 AND trashed_at IS NULL`, tenant).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownTenant
	}
	if err != nil {
		return "", fmt.Errorf("query tenant: %w", err)
	}
	return ns, nil
}

// Resolver caches a Source. Unknown tenants are not cached so a newly
// created tenant is visible immediately.
type Resolver struct {
	src   Source
	cache *ttlcache.Cache[string, string]
}

// NewResolver starts a resolver; Stop releases its expiry goroutine.
func NewResolver(src Source, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &Resolver{src: src, cache: cache}
}

// Resolve returns the namespace of tenant.
func (r *Resolver) Resolve(ctx context.Context, tenant string) (string, error) {
	if tenant == "" {
		return "", ErrUnknownTenant
	}
	if item := r.cache.Get(tenant); item != nil {
		metrics.RecordTenantLookup(true)
		return item.Value(), nil
	}
	metrics.RecordTenantLookup(false)

	ns, err := r.src.Namespace(ctx, tenant)
	if err != nil {
		return "", err
	}
	r.cache.Set(tenant, ns, ttlcache.DefaultTTL)
	logging.Debug("tenant resolved", zap.String("tenant", tenant), zap.String("namespace", ns))
	return ns, nil
}

// Invalidate drops a cached entry.
func (r *Resolver) Invalidate(tenant string) {
	r.cache.Delete(tenant)
}

// Stop ends background expiry.
func (r *Resolver) Stop() {
	r.cache.Stop()
}
