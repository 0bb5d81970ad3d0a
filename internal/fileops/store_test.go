package fileops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fserr"
)

func TestStoreFieldAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultStoreOptions()
	opts.AppendMode = true

	res, err := f.svc.Store(ctx, f.root, "/data/users/u1/notes", " world", opts)
	require.NoError(t, err)
	assert.Equal(t, OpFieldAppend, res.Operation)
	assert.Equal(t, "hello world", res.Result)

	// non-string values replace even in append mode
	res, err = f.svc.Store(ctx, f.root, "/data/users/u1/age", float64(7), opts)
	require.NoError(t, err)
	assert.Equal(t, OpFieldUpdate, res.Operation)
}

func TestStoreRecordMergeAndReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultStoreOptions()
	opts.AppendMode = true

	res, err := f.svc.Store(ctx, f.root, "/data/users/u1", map[string]any{"age": float64(31)}, opts)
	require.NoError(t, err)
	assert.Equal(t, OpMerge, res.Operation)
	got, err := f.svc.Retrieve(ctx, f.root, "/data/users/u1", DefaultRetrieveOptions())
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Content.(map[string]any)["name"])
	assert.Equal(t, float64(31), got.Content.(map[string]any)["age"])

	res, err = f.svc.Store(ctx, f.root, "/data/users/u1", `{"name":"Alicia"}`, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, res.Operation)
	assert.False(t, res.Created)
	got, err = f.svc.Retrieve(ctx, f.root, "/data/users/u1", DefaultRetrieveOptions())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "u1", "name": "Alicia"}, got.Content)
}

func TestStoreRestoresTrashedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Delete(ctx, f.root, "/data/users/u2")
	require.NoError(t, err)

	opts := DefaultStoreOptions()
	opts.Overwrite = false
	_, err = f.svc.Store(ctx, f.root, "/data/users/u2", map[string]any{"name": "Bob"}, opts)
	assertCode(t, err, fserr.RecordExists)

	res, err := f.svc.Store(ctx, f.root, "/data/users/u2", map[string]any{"name": "Bob again"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.True(t, res.Restored)
	assert.Equal(t, OpUpdate, res.Operation)

	got, err := f.svc.Retrieve(ctx, f.root, "/data/users/u2/name", DefaultRetrieveOptions())
	require.NoError(t, err)
	assert.Equal(t, "Bob again", got.Content)
}

func TestStoreValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for path, v := range map[string]any{
		"/describe/users/age/minimum":   float64(0),
		"/describe/users/age/maximum":   float64(150),
		"/describe/users/email/pattern": `^[^@\s]+@[^@\s]+$`,
	} {
		_, err := f.svc.Store(ctx, f.root, path, v, DefaultStoreOptions())
		require.NoError(t, err, path)
	}
	published := len(f.pub.all())

	cases := []struct {
		name  string
		path  string
		value any
		code  fserr.Code
	}{
		{"undeclared column", "/data/users/x", map[string]any{"name": "X", "nickname": "x"}, fserr.FieldNotFound},
		{"wrong type", "/data/users/x", map[string]any{"name": "X", "age": "old"}, fserr.RequestInvalidFormat},
		{"fractional integer", "/data/users/x", map[string]any{"name": "X", "age": 1.5}, fserr.RequestInvalidFormat},
		{"below minimum", "/data/users/x", map[string]any{"name": "X", "age": float64(-1)}, fserr.RequestInvalidFormat},
		{"above maximum", "/data/users/x", map[string]any{"name": "X", "age": float64(200)}, fserr.RequestInvalidFormat},
		{"pattern mismatch", "/data/users/x", map[string]any{"name": "X", "email": "nope"}, fserr.RequestInvalidFormat},
		{"field above maximum", "/data/users/u1/age", float64(999), fserr.RequestInvalidFormat},
		{"field pattern mismatch", "/data/users/u1/email", "lower-case!", fserr.RequestInvalidFormat},
		{"missing required", "/data/users/x", map[string]any{"email": "x@example.com"}, fserr.RequestInvalidFormat},
		{"array body", "/data/users/x", "[1,2]", fserr.RequestInvalidFormat},
		{"scalar body", "/data/users/x", 42, fserr.RequestInvalidFormat},
		{"bad access list", "/data/users/x", map[string]any{"name": "X", "access_read": "u-bob"}, fserr.RequestInvalidFormat},
		{"undeclared field", "/data/users/u1/nickname", "x", fserr.FieldNotFound},
		{"field type", "/data/users/u1/tags", "not-a-list", fserr.RequestInvalidFormat},
		{"system field", "/data/users/u1/created_at", "2020-01-01", fserr.RequestInvalidFormat},
		{"unknown schema", "/data/nope/x", map[string]any{}, fserr.SchemaNotFound},
		{"missing record", "/data/users/nobody/name", "x", fserr.RecordNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Store(ctx, f.root, tc.path, tc.value, DefaultStoreOptions())
			assertCode(t, err, tc.code)
		})
	}
	assert.Len(t, f.pub.all(), published)

	res, err := f.svc.Store(ctx, f.root, "/data/users/x", map[string]any{"name": "X", "age": float64(150), "email": "x@example.com"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestStoreWithoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := DefaultStoreOptions()
	opts.ValidateSchema = false

	// type checks are skipped
	res, err := f.svc.Store(ctx, f.root, "/data/users/loose", map[string]any{"age": "old"}, opts)
	require.NoError(t, err)
	assert.True(t, res.Created)

	// undeclared fields have no column to land in
	_, err = f.svc.Store(ctx, f.root, "/data/users/loose2", map[string]any{"nickname": "x"}, opts)
	assertCode(t, err, fserr.FieldNotFound)
	_, err = f.svc.Store(ctx, f.root, "/data/users/loose", map[string]any{"nickname": "x"}, opts)
	assertCode(t, err, fserr.FieldNotFound)
	_, err = f.svc.Store(ctx, f.root, "/data/users/u1/nickname", "x", opts)
	assertCode(t, err, fserr.FieldNotFound)

	_, err = f.svc.Retrieve(ctx, f.root, "/data/users/loose2", DefaultRetrieveOptions())
	assertCode(t, err, fserr.RecordNotFound)
}

func TestStoreRecordMetadataType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Store(ctx, f.root, "/data/users/d1", map[string]any{"name": "D"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, MetaDirectory, res.Metadata.Type)

	res, err = f.svc.Store(ctx, f.root, "/data/users/d2.json", map[string]any{"name": "D"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, MetaFile, res.Metadata.Type)

	res, err = f.svc.Store(ctx, f.root, "/data/users/d1", map[string]any{"name": "D2"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, res.Operation)
	assert.Equal(t, MetaDirectory, res.Metadata.Type)

	res, err = f.svc.Store(ctx, f.root, "/data/users/d1.json", map[string]any{"name": "D3"}, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, MetaFile, res.Metadata.Type)
}

func TestStoreUnsupportedTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, path := range []string{"/", "/data", "/data/users", "/describe/users", "/describe/users/name"} {
		_, err := f.svc.Store(ctx, f.root, path, map[string]any{}, DefaultStoreOptions())
		assertCode(t, err, fserr.UnsupportedPathType)
	}
}

func TestStoreColumnProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Store(ctx, f.root, "/describe/users/email/required", true, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, OpColumnUpdate, res.Operation)
	assert.Equal(t, true, res.Result)

	got, err := f.svc.Retrieve(ctx, f.root, "/describe/users/email/required", DefaultRetrieveOptions())
	require.NoError(t, err)
	assert.Equal(t, true, got.Content)

	// the new constraint applies to later writes
	_, err = f.svc.Store(ctx, f.root, "/data/users/new", map[string]any{"name": "N"}, DefaultStoreOptions())
	assertCode(t, err, fserr.RequestInvalidFormat)

	_, err = f.svc.Store(ctx, f.root, "/describe/users/email/colour", "red", DefaultStoreOptions())
	assertCode(t, err, fserr.FieldNotFound)
	_, err = f.svc.Store(ctx, f.root, "/describe/users/email/required", "maybe", DefaultStoreOptions())
	assertCode(t, err, fserr.RequestInvalidFormat)
}

func TestDeleteField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Delete(ctx, f.root, "/data/users/u1/email")
	require.NoError(t, err)
	assert.Equal(t, OpFieldClear, res.Operation)
	assert.False(t, res.CanRestore)

	got, err := f.svc.Retrieve(ctx, f.root, "/data/users/u1/email", DefaultRetrieveOptions())
	require.NoError(t, err)
	assert.Nil(t, got.Content)
	size, err := f.svc.Size(ctx, f.root, "/data/users/u1/email")
	require.NoError(t, err)
	assert.Equal(t, int64(len("null")), size.Size)

	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventUpdate, evs[0].Type)
	assert.Equal(t, OpFieldClear, evs[0].Operation)

	_, err = f.svc.Delete(ctx, f.root, "/data/users/u1/id")
	assertCode(t, err, fserr.RequestInvalidFormat)
	_, err = f.svc.Delete(ctx, f.root, "/data/users/u1/nickname")
	assertCode(t, err, fserr.FieldNotFound)
}

func TestDeleteUnsupportedTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, path := range []string{"/", "/data", "/data/users", "/describe/users", "/describe/users/name", "/describe/users/name/required"} {
		_, err := f.svc.Delete(ctx, f.root, path)
		assertCode(t, err, fserr.UnsupportedPathType)
	}
}

func TestDeletePublishes(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Delete(context.Background(), f.root, "/data/users/u3")
	require.NoError(t, err)
	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDelete, evs[0].Type)
	assert.Equal(t, "/data/users/u3", evs[0].Path)
}
