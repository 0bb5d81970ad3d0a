package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/api"
	"github.com/fruitsalade/tenantfs/internal/auth"
	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metadata/memory"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/tenant"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

// testServer runs the API over a seeded memory store and returns clients
// for root and for u-alice.
func testServer(t *testing.T) (*httptest.Server, *Client, *Client) {
	t.Helper()
	st := memory.New()
	u1 := record.New("u1")
	u1.Fields["name"] = "Alice"
	u2 := record.New("u2")
	u2.Fields["name"] = "Bob"
	u2.AccessDeny = []string{"u-alice"}
	st.Seed("tenant_acme", &schema.Schema{Name: "users", Columns: []*schema.Column{
		{Name: "name", Type: schema.TypeText, Required: true},
		{Name: "email", Type: schema.TypeText},
	}}, u1, u2)

	resolver := tenant.NewResolver(tenant.Static{"acme": "tenant_acme"}, time.Minute)
	t.Cleanup(resolver.Stop)
	rt := txn.New(st, txn.WithCacheLoader(metadata.CacheLoader(st)))
	b := events.NewBroadcaster()
	svc := fileops.New(rt, st, fileops.WithPublisher(b))
	a := auth.New("test-secret")

	ts := httptest.NewServer(api.NewServer(svc, resolver, a, b, nil).Handler())
	t.Cleanup(ts.Close)

	issue := func(c auth.Claims) string {
		tok, _, err := a.Issue(c)
		require.NoError(t, err)
		return tok
	}
	root := New(Config{BaseURL: ts.URL, AuthToken: issue(auth.Claims{Tenant: "acme", Root: true})})
	alice := New(Config{BaseURL: ts.URL, AuthToken: issue(auth.Claims{
		Tenant:           "acme",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-alice"},
	})})
	return ts, root, alice
}

func TestPing(t *testing.T) {
	_, root, _ := testServer(t)
	require.NoError(t, root.Ping(context.Background()))
}

func TestListAndRetrieve(t *testing.T) {
	_, root, alice := testServer(t)
	ctx := context.Background()

	list, err := root.List(ctx, "/data/users", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	list, err = alice.List(ctx, "/data/users", nil)
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "u1", list.Entries[0].Name)

	got, err := root.Retrieve(ctx, "/data/users/u1/name", nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Content)

	got, err = root.Retrieve(ctx, "/data/users/u1/name", url.Values{"format": {"raw"}, "start_offset": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, "ice", got.Content)
}

func TestErrorsDecode(t *testing.T) {
	_, root, alice := testServer(t)
	ctx := context.Background()

	_, err := root.Retrieve(ctx, "/data/users/nope", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, fserr.RecordNotFound, apiErr.Code)

	_, err = alice.Stat(ctx, "/data/users/u2")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fserr.PermissionDenied, apiErr.Code)

	_, err = root.List(ctx, "/", url.Values{"bogus": {"1"}})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestStoreDeleteCycle(t *testing.T) {
	_, root, _ := testServer(t)
	ctx := context.Background()

	res, err := root.Store(ctx, "/data/users/u9", map[string]any{"name": "Zed"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)

	_, err = root.Store(ctx, "/data/users/u9/email", "zed@example.com", nil)
	require.NoError(t, err)

	size, err := root.Size(ctx, "/data/users/u9/name")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	mt, err := root.ModifyTime(ctx, "/data/users/u9")
	require.NoError(t, err)
	assert.False(t, mt.ModifiedTime.IsZero())

	del, err := root.Delete(ctx, "/data/users/u9")
	require.NoError(t, err)
	assert.True(t, del.CanRestore)

	st, err := root.Stat(ctx, "/data/users")
	require.NoError(t, err)
	require.NotNil(t, st.RecordCount)
	assert.Equal(t, int64(2), *st.RecordCount)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"boom","code":"INTERNAL_ERROR","status":500}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"path":"/x","size":7}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}})
	size, err := c.Size(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}})
	_, err := c.Stat(context.Background(), "/x")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not Found", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEvents(t *testing.T) {
	_, root, _ := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, _ := root.Events(ctx)

	// The subscription races the first store; keep storing until one lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e := <-feed:
			assert.Equal(t, "acme", e.Tenant)
			assert.Contains(t, e.Path, "u1/email")
			cancel()
			for range feed {
			}
			return
		case <-tick.C:
			_, err := root.Store(context.Background(), "/data/users/u1/email", "a@example.com", nil)
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestEventsReportsRejectedToken(t *testing.T) {
	ts, _, _ := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(Config{BaseURL: ts.URL, AuthToken: "bogus"})
	_, errs := c.Events(ctx)
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "401")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}
