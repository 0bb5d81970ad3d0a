// tenantfs server
//
// Features:
// - Virtual filesystem over per-tenant relational namespaces
// - JWT identities with per-record access lists
// - SSE change feed
// - Rate limiting
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/api"
	"github.com/fruitsalade/tenantfs/internal/auth"
	"github.com/fruitsalade/tenantfs/internal/config"
	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metadata/memory"
	"github.com/fruitsalade/tenantfs/internal/metadata/postgres"
	"github.com/fruitsalade/tenantfs/internal/metrics"
	"github.com/fruitsalade/tenantfs/internal/quota"
	"github.com/fruitsalade/tenantfs/internal/tenant"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/webdav"
)

// backend is a store the runtime and the verbs can both use.
type backend interface {
	txn.Adapter
	metadata.Binder
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("tenantfs server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.StoreBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store   backend
		source  tenant.Source
		pgStore *postgres.Store
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		name := cfg.DefaultTenant
		if name == "" {
			name = "default"
		}
		ns := "tenant_" + name
		mem := memory.New()
		mem.CreateNamespace(ns)
		store = mem
		source = tenant.Static{name: ns}
		logging.Warn("using in-memory store, data is lost on exit", zap.String("tenant", name))
	default:
		logging.Info("connecting to PostgreSQL...")
		pgStore, err = postgres.New(cfg.DatabaseURL, postgres.Pool{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: postgres.DefaultPool.ConnMaxLifetime,
		})
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer pgStore.Close()

		// Run migrations
		migrationsDir := cfg.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = findMigrationsDir()
		}
		if migrationsDir != "" {
			logging.Info("running migrations...", zap.String("dir", migrationsDir))
			if err := pgStore.Migrate(migrationsDir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		store = pgStore
		source = tenant.NewPostgres(pgStore.DB())
	}

	// Tenant resolution
	resolver := tenant.NewResolver(source, cfg.TenantCacheTTL)
	defer resolver.Stop()

	// Unit-of-work runtime and verbs
	rt := txn.New(store,
		txn.WithCacheLoader(metadata.CacheLoader(store)),
		txn.WithWarmCache(cfg.WarmSchemaCache))

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	svc := fileops.New(rt, store,
		fileops.WithPublisher(broadcaster),
		fileops.WithCrossSchemaLimit(cfg.CrossSchemaLimit))

	authHandler := auth.New(cfg.JWTSecret)
	rateLimiter := quota.NewRateLimiter(cfg.DefaultRequestsPerMin)

	srv := api.NewServer(svc, resolver, authHandler, broadcaster, rateLimiter)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	if cfg.MetricsAddr != "" {
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("forced shutdown", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Start periodic metrics update
	if pgStore != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pgStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Start periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("webdav mounted", zap.String("prefix", webdav.Prefix))
	if cfg.TLSEnabled() {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
	<-idle
	logging.Info("server stopped")
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
