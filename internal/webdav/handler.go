// Package webdav serves the tenant filesystem to WebDAV clients.
package webdav

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/logging"
)

// Prefix is where the WebDAV tree is mounted.
const Prefix = "/webdav"

// RequestFunc resolves the verb request of an authenticated HTTP request.
type RequestFunc func(r *http.Request) (fileops.Request, error)

type requestKey struct{}

func withRequest(ctx context.Context, req fileops.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

func requestFrom(ctx context.Context) (fileops.Request, bool) {
	req, ok := ctx.Value(requestKey{}).(fileops.Request)
	return req, ok
}

// NewHandler creates a WebDAV handler over verbs. Authentication happens
// before it; requestOf turns the authenticated request into a verb request.
func NewHandler(verbs Verbs, requestOf RequestFunc) http.Handler {
	dav := &webdav.Handler{
		Prefix:     Prefix,
		FileSystem: &FileSystem{verbs: verbs},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.WithContext(r.Context()).Debug("webdav request failed",
					zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			}
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := requestOf(r)
		if err != nil {
			http.Error(w, err.Error(), fserr.As(err).HTTPStatus())
			return
		}
		dav.ServeHTTP(w, r.WithContext(withRequest(r.Context(), req)))
	})
}
