package fileops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

func TestStat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.Stat(ctx, f.root, "/")
	require.NoError(t, err)
	assert.Equal(t, MetaDirectory, st.Type)
	require.NotNil(t, st.ChildrenCount)
	assert.Equal(t, int64(2), *st.ChildrenCount)

	st, err = f.svc.Stat(ctx, f.root, "/data")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *st.ChildrenCount)

	st, err = f.svc.Stat(ctx, f.root, "/data/users")
	require.NoError(t, err)
	require.NotNil(t, st.RecordCount)
	assert.Equal(t, int64(3), *st.RecordCount)
	assert.IsType(t, &schema.Schema{}, st.Definition)

	st, err = f.svc.Stat(ctx, f.root, "/describe/users")
	require.NoError(t, err)
	assert.Nil(t, st.RecordCount)
	assert.Equal(t, int64(5), *st.ChildrenCount)

	st, err = f.svc.Stat(ctx, f.alice, "/data/users/u3")
	require.NoError(t, err)
	assert.Equal(t, MetaDirectory, st.Type)
	assert.Equal(t, acl.LevelRead, st.AccessLevel)
	assert.Equal(t, acl.PermRead, st.Permissions)
	require.NotNil(t, st.FieldCount)
	assert.Equal(t, 2, *st.FieldCount)
	require.NotNil(t, st.SoftDeleted)
	assert.False(t, *st.SoftDeleted)

	st, err = f.svc.Stat(ctx, f.root, "/data/users/u1/email")
	require.NoError(t, err)
	assert.Equal(t, MetaFile, st.Type)
	assert.Equal(t, int64(len("alice@example.com")), st.Size)

	st, err = f.svc.Stat(ctx, f.root, "/data/users/u1/updated_at")
	require.NoError(t, err)
	assert.Equal(t, int64(len("null")), st.Size)

	st, err = f.svc.Stat(ctx, f.root, "/describe/users/name")
	require.NoError(t, err)
	assert.Equal(t, int64(len(schema.Properties)), *st.ChildrenCount)
	assert.Equal(t, "name", st.Definition.(map[string]any)["column_name"])

	st, err = f.svc.Stat(ctx, f.alice, "/describe/users/name/required")
	require.NoError(t, err)
	assert.Equal(t, acl.PermRead, st.Permissions)
	assert.Equal(t, int64(len("true")), st.Size)

	_, err = f.svc.Stat(ctx, f.alice, "/data/users/u2")
	assertCode(t, err, fserr.PermissionDenied)
}

func TestSizeHidesSystemFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Size(context.Background(), f.root, "/data/users/u1/created_at")
	assertCode(t, err, fserr.FieldNotFound)

	res, err := f.svc.Size(context.Background(), f.root, "/data/users/u1.json")
	require.NoError(t, err)
	raw, err := f.svc.Retrieve(context.Background(), f.root, "/data/users/u1.json", RetrieveOptions{Format: FormatRaw})
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw.Content.(string))), res.Size)
}

func TestModifyTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, path := range []string{"/", "/data", "/describe"} {
		res, err := f.svc.ModifyTime(ctx, f.root, path)
		require.NoError(t, err)
		assert.Equal(t, SourceCurrentTime, res.Source)
		assert.True(t, wallTime.Equal(res.ModifiedTime))
	}

	res, err := f.svc.ModifyTime(ctx, f.root, "/data/users/u1")
	require.NoError(t, err)
	assert.Equal(t, SourceCreatedAt, res.Source)
	assert.True(t, seedTime.Equal(res.ModifiedTime))

	res, err = f.svc.ModifyTime(ctx, f.root, "/data/users")
	require.NoError(t, err)
	assert.Equal(t, SourceCurrentTime, res.Source)

	_, err = f.svc.Store(ctx, f.root, "/data/users/u1/name", "Alicia", DefaultStoreOptions())
	require.NoError(t, err)

	res, err = f.svc.ModifyTime(ctx, f.root, "/data/users/u1/name")
	require.NoError(t, err)
	assert.Equal(t, SourceUpdatedAt, res.Source)
	assert.True(t, storeTime.Equal(res.ModifiedTime))

	res, err = f.svc.ModifyTime(ctx, f.root, "/data/users")
	require.NoError(t, err)
	assert.Equal(t, SourceUpdatedAt, res.Source)
	assert.True(t, storeTime.Equal(res.ModifiedTime))

	_, err = f.svc.ModifyTime(ctx, f.root, "/data/users/u1/missing")
	assertCode(t, err, fserr.FieldNotFound)
	_, err = f.svc.ModifyTime(ctx, f.root, "/data/users/nobody")
	assertCode(t, err, fserr.RecordNotFound)
}

func TestModifyTimeOfColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.ModifyTime(ctx, f.root, "/describe/users/email")
	require.NoError(t, err)
	assert.Equal(t, SourceCreatedAt, res.Source)
	assert.True(t, seedTime.Equal(res.ModifiedTime))

	_, err = f.svc.Store(ctx, f.root, "/describe/users/email/description", "contact address", DefaultStoreOptions())
	require.NoError(t, err)
	res, err = f.svc.ModifyTime(ctx, f.root, "/describe/users/email/description")
	require.NoError(t, err)
	assert.Equal(t, SourceUpdatedAt, res.Source)
	assert.True(t, storeTime.Equal(res.ModifiedTime))
}
