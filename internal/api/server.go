// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/auth"
	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metrics"
	"github.com/fruitsalade/tenantfs/internal/quota"
	"github.com/fruitsalade/tenantfs/internal/tenant"
	"github.com/fruitsalade/tenantfs/internal/webdav"
)

// DefaultMaxBodySize limits store request bodies.
const DefaultMaxBodySize = 10 << 20

// TenantResolver maps a tenant name to its namespace.
type TenantResolver interface {
	Resolve(ctx context.Context, tenant string) (string, error)
}

// Server is the HTTP server.
type Server struct {
	fs          *fileops.Service
	tenants     TenantResolver
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	rateLimiter *quota.RateLimiter
	maxBodySize int64
}

// NewServer creates a new server. broadcaster and rateLimiter may be nil.
func NewServer(
	fs *fileops.Service,
	tenants TenantResolver,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	rateLimiter *quota.RateLimiter,
) *Server {
	if rateLimiter == nil {
		rateLimiter = quota.NewRateLimiter(0)
	}
	return &Server{
		fs:          fs,
		tenants:     tenants,
		auth:        authHandler,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		maxBodySize: DefaultMaxBodySize,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()

	// Read endpoints
	protected.HandleFunc("GET /api/v1/fs/list/{path...}", s.handleList)
	protected.HandleFunc("GET /api/v1/fs/stream/{path...}", s.handleStream)
	protected.HandleFunc("GET /api/v1/fs/retrieve/{path...}", s.handleRetrieve)
	protected.HandleFunc("GET /api/v1/fs/stat/{path...}", s.handleStat)
	protected.HandleFunc("GET /api/v1/fs/size/{path...}", s.handleSize)
	protected.HandleFunc("GET /api/v1/fs/mdtm/{path...}", s.handleModifyTime)

	// Write endpoints
	protected.HandleFunc("PUT /api/v1/fs/store/{path...}", s.handleStore)
	protected.HandleFunc("DELETE /api/v1/fs/delete/{path...}", s.handleDelete)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Wrap protected routes with auth then rate limiter
	keyOf := func(ctx context.Context) (string, bool) {
		claims := auth.GetClaims(ctx)
		if claims == nil {
			return "", false
		}
		return claims.Tenant + "/" + claims.Subject, true
	}
	limit := quota.RateLimitMiddleware(s.rateLimiter, keyOf)
	mux.Handle("/api/v1/", s.auth.Middleware(limit(protected)))

	// WebDAV view of the same tree
	mux.Handle(webdav.Prefix+"/", s.auth.Middleware(limit(s.limitBody(webdav.NewHandler(s.fs, s.request)))))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendStatus(w, http.StatusNotFound, fserr.UnsupportedPathType, "event feed disabled")
		return
	}
	claims := auth.GetClaims(r.Context())
	if _, err := s.request(r); err != nil {
		s.sendError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendStatus(w, http.StatusInternalServerError, fserr.Internal, "streaming not supported")
		return
	}

	// Subscribe before the headers go out so a client that has seen them
	// receives every later event.
	ch := s.broadcaster.Subscribe(claims.Tenant)
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// request builds the verb request for the authenticated caller.
func (s *Server) request(r *http.Request) (fileops.Request, error) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		return fileops.Request{}, fserr.New(fserr.PermissionDenied, "", "no identity")
	}
	ns, err := s.tenants.Resolve(r.Context(), claims.Tenant)
	if errors.Is(err, tenant.ErrUnknownTenant) {
		return fileops.Request{}, fserr.New(fserr.PermissionDenied, "", "unknown tenant %q", claims.Tenant)
	}
	if err != nil {
		return fileops.Request{}, fserr.Wrap(err, "resolve tenant")
	}
	return fileops.Request{Tenant: claims.Tenant, Namespace: ns, Identity: claims}, nil
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError writes err as {error, code, status}.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	fe := fserr.As(err)
	status := fe.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.sendStatus(w, status, fe.Code, fe.Error())
}

func (s *Server) sendStatus(w http.ResponseWriter, status int, code fserr.Code, message string) {
	writeJSON(w, status, errorBody(status, code, message))
}

func errorBody(status int, code fserr.Code, message string) map[string]any {
	return map[string]any{
		"error":  message,
		"code":   code,
		"status": status,
	}
}
