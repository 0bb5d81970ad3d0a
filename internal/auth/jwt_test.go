package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/acl"
)

func TestIssueAndValidate(t *testing.T) {
	a := New("secret")
	tok, exp, err := a.Issue(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-alice"},
		Tenant:           "acme",
		AccessRead:       []string{"g-staff"},
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), exp, time.Minute)

	claims, err := a.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant)
	assert.False(t, claims.IsRoot())
	assert.Equal(t, acl.User{ID: "u-alice", Read: []string{"g-staff"}}, claims.User())

	_, err = New("other").Validate(tok)
	assert.Error(t, err)
}

func TestIssueRejectsIncompleteClaims(t *testing.T) {
	a := New("secret")
	_, _, err := a.Issue(Claims{Tenant: "acme"})
	assert.Error(t, err)
	_, _, err = a.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	assert.Error(t, err)

	tok, _, err := a.Issue(Claims{Tenant: "acme", Root: true})
	require.NoError(t, err)
	claims, err := a.Validate(tok)
	require.NoError(t, err)
	assert.True(t, claims.IsRoot())
}

func TestValidateExpired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New("secret", WithTTL(time.Hour), WithClock(func() time.Time { return issued }))
	tok, _, err := a.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}, Tenant: "acme"})
	require.NoError(t, err)

	later := New("secret", WithClock(func() time.Time { return issued.Add(2 * time.Hour) }))
	_, err = later.Validate(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestMiddleware(t *testing.T) {
	a := New("secret")
	var seen *Claims
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	tok, _, err := a.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-bob"}, Tenant: "acme"})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u-bob", seen.Subject)

	seen = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token="+tok, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
}
