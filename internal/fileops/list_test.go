package fileops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/fserr"
)

func TestListNamespaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, path := range []string{"/data", "/describe"} {
		res, err := f.svc.List(ctx, f.root, path, DefaultListOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"account", "things", "users"}, names(res.Entries))
	}

	res, err := f.svc.List(ctx, f.root, "/describe/users", DefaultListOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "email", "name", "notes", "tags"}, names(res.Entries))

	res, err = f.svc.List(ctx, f.root, "/describe/users/name", DefaultListOptions())
	require.NoError(t, err)
	assert.Contains(t, names(res.Entries), "required")
	for _, e := range res.Entries {
		assert.Equal(t, TypeFile, e.FileType)
	}
}

func TestListFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.List(ctx, f.root, "/data/users/u1", DefaultListOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "id", "name", "notes"}, names(res.Entries))

	opts := DefaultListOptions()
	opts.ShowHidden = true
	res, err = f.svc.List(ctx, f.root, "/data/users/u1", opts)
	require.NoError(t, err)
	assert.Contains(t, names(res.Entries), "created_at")
	assert.Contains(t, names(res.Entries), "access_full")
}

func TestListSortTieBreak(t *testing.T) {
	f := newFixture(t)
	opts := DefaultListOptions()
	opts.SortBy = SortSize
	opts.SortOrder = SortDesc
	res, err := f.svc.List(context.Background(), f.root, "/data/things/t1", opts)
	require.NoError(t, err)
	// a, b and id are all two bytes
	assert.Equal(t, []string{"a", "b", "id", "c"}, names(res.Entries))

	opts.SortOrder = SortAsc
	res, err = f.svc.List(context.Background(), f.root, "/data/things/t1", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "id"}, names(res.Entries))
}

func TestListLongFormat(t *testing.T) {
	f := newFixture(t)
	opts := DefaultListOptions()
	opts.LongFormat = true
	res, err := f.svc.List(context.Background(), f.root, "/data/users", opts)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	e := res.Entries[0]
	require.NotNil(t, e.SoftDeleted)
	assert.False(t, *e.SoftDeleted)
	require.NotNil(t, e.FieldCount)
	assert.Equal(t, 4, *e.FieldCount)
	assert.NotEmpty(t, e.ETag)
	assert.NotEmpty(t, e.CreatedTime)
}

func TestListRecursive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultListOptions()
	opts.Recursive = true
	res, err := f.svc.List(ctx, f.root, "/data/things", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "a", "b", "c", "id", "t2", "a", "id"}, names(res.Entries))

	opts.Flat = true
	res, err = f.svc.List(ctx, f.root, "/data/things", opts)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 6)
	for _, e := range res.Entries {
		assert.Equal(t, TypeFile, e.FileType, e.Path)
	}
	assert.Equal(t, "/data/things/t1/a", res.Entries[0].Path)

	opts = DefaultListOptions()
	opts.Recursive = true
	opts.MaxDepth = 1
	res, err = f.svc.List(ctx, f.root, "/data/things", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, names(res.Entries))

	opts.Flat = true
	res, err = f.svc.List(ctx, f.root, "/data/things", opts)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestListWildcards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.List(ctx, f.root, "/data/*", DefaultListOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"account/123", "things/t1", "things/t2", "users/u1", "users/u2", "users/u3"}, names(res.Entries))
	assert.Equal(t, "/data/users/u1", res.Entries[3].Path)

	res, err = f.svc.List(ctx, f.root, "/data/*/u1", DefaultListOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1"}, names(res.Entries))

	opts := DefaultListOptions()
	opts.CrossSchemaLimit = 1
	res, err = f.svc.List(ctx, f.root, "/data/*/*", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"account/123", "things/t1", "users/u1"}, names(res.Entries))

	res, err = f.svc.List(ctx, f.alice, "/data/*", DefaultListOptions())
	require.NoError(t, err)
	assert.NotContains(t, names(res.Entries), "users/u2")
}

func TestListWhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultListOptions()
	opts.Where = map[string]any{"name": "Alice"}
	res, err := f.svc.List(ctx, f.root, "/data/users", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, names(res.Entries))

	opts.Where = map[string]any{"colour": "red"}
	_, err = f.svc.List(ctx, f.root, "/data/users", opts)
	assertCode(t, err, fserr.FieldNotFound)

	opts.Where = map[string]any{"email": "bob@example.com"}
	res, err = f.svc.List(ctx, f.root, "/data/*", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"account/123"}, names(res.Entries))
}

func TestListErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]fserr.Code{
		"/data/users/u1/name":       fserr.InvalidListPath,
		"/data/users/u1.json":       fserr.InvalidListPath,
		"/describe/users/name.json": fserr.InvalidListPath,
		"/describe/*":               fserr.UnsupportedListPath,
		"/data/nope":                fserr.SchemaNotFound,
		"/data/users/u2":            fserr.PermissionDenied,
	}
	for path, code := range cases {
		t.Run(path, func(t *testing.T) {
			_, err := f.svc.List(ctx, f.alice, path, DefaultListOptions())
			assertCode(t, err, code)
		})
	}

	_, err := f.svc.List(ctx, f.root, "/data", ListOptions{SortBy: "colour"})
	assertCode(t, err, fserr.RequestInvalidFormat)
}

func TestListStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultListOptions()
	opts.Recursive = true

	st, err := f.svc.ListStream(ctx, f.root, "/data/things", opts)
	require.NoError(t, err)
	got, err := st.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "a", "b", "c", "id", "t2", "a", "id"}, names(got))
	assert.Equal(t, 0, f.store.Stats().Open)
}

func TestListStreamAbandoned(t *testing.T) {
	f := newFixture(t)
	opts := DefaultListOptions()
	opts.Recursive = true

	st, err := f.svc.ListStream(context.Background(), f.root, "/data", opts)
	require.NoError(t, err)
	require.True(t, st.Next())
	assert.Equal(t, "account", st.Value().Name)
	assert.Equal(t, 1, f.store.Stats().Open)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	stats := f.store.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 0, stats.Commits)
}

func TestListStreamPathError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListStream(context.Background(), f.root, "/data/nope", DefaultListOptions())
	assertCode(t, err, fserr.SchemaNotFound)
	assert.Equal(t, 0, f.store.Stats().Open)
}
