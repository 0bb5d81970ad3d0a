package vpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/tenantfs/internal/fserr"
)

func TestParseKinds(t *testing.T) {
	tests := []struct {
		raw    string
		kind   Kind
		target Target
		dir    bool
		json   bool
	}{
		{"/", KindRoot, RootTarget{}, true, false},
		{"", KindRoot, RootTarget{}, true, false},
		{"/data", KindNamespace, NamespaceTarget{Namespace: Data}, true, false},
		{"/describe/", KindNamespace, NamespaceTarget{Namespace: Describe}, true, false},
		{"/data/users", KindSchema, SchemaTarget{Namespace: Data, Schema: "users"}, true, false},
		{"/data/users/abc-1", KindRecord, RecordTarget{Schema: "users", ID: "abc-1"}, true, false},
		{"/data/users/abc-1.json", KindRecord, RecordTarget{Schema: "users", ID: "abc-1"}, false, true},
		{"/data/users/abc-1/email", KindField, FieldTarget{Schema: "users", ID: "abc-1", Field: "email"}, false, false},
		{"/describe/users", KindSchema, SchemaTarget{Namespace: Describe, Schema: "users"}, true, false},
		{"/describe/users/email", KindRecord, ColumnTarget{Schema: "users", Column: "email"}, true, false},
		{"/describe/users/email.json", KindRecord, ColumnTarget{Schema: "users", Column: "email"}, false, true},
		{"/describe/users/email/type", KindProperty, PropertyTarget{Schema: "users", Column: "email", Property: "type"}, false, false},
		{"data//users///abc-1/", KindRecord, RecordTarget{Schema: "users", ID: "abc-1"}, true, false},
		{"/data/users/../accounts", KindSchema, SchemaTarget{Namespace: Data, Schema: "accounts"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.target, p.Target)
			assert.Equal(t, tt.dir, p.IsDirectory)
			assert.Equal(t, tt.json, p.IsJSONFile)
			assert.False(t, p.HasWildcards)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		raw  string
		opts Options
		code fserr.Code
	}{
		{"/data/*", Options{}, fserr.SchemaWildcardNotSupported},
		{"/data/*/abc", Options{AllowWildcards: true}, fserr.SchemaWildcardNotSupported},
		{"/data/users/*", Options{}, fserr.UUIDWildcardNotSupported},
		{"/data/us*rs", Options{AllowWildcards: true}, fserr.RequestInvalidFormat},
		{"/data/users/ab?", Options{AllowWildcards: true}, fserr.RequestInvalidFormat},
		{"/data/users/*.json", Options{AllowWildcards: true}, fserr.RequestInvalidFormat},
		{"/data/users/1/*", Options{AllowWildcards: true}, fserr.RequestInvalidFormat},
		{"/data/users/1/email/extra", Options{}, fserr.RequestInvalidFormat},
		{"/describe/users/email/type/extra", Options{}, fserr.NestedPropertiesNotSupported},
		{"/x/1", Options{}, fserr.RequestInvalidFormat},
		{"/*", Options{AllowWildcards: true}, fserr.RequestInvalidFormat},
		{"/data/users/.json", Options{}, fserr.RequestInvalidFormat},
		{"/data/us\x00ers", Options{}, fserr.RequestInvalidFormat},
		{"/data/users", Options{RequireFile: true}, fserr.NotAFile},
		{"/data/users/1", Options{RequireFile: true}, fserr.NotAFile},
		{"/", Options{RequireFile: true}, fserr.NotAFile},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := Parse(tt.raw, tt.opts)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Equal(t, tt.code, fserr.CodeOf(err))
		})
	}
}

func TestParseWildcards(t *testing.T) {
	opts := Options{AllowWildcards: true, AllowCrossSchema: true}

	p, err := Parse("/data/*", opts)
	require.NoError(t, err)
	assert.True(t, p.HasWildcards)
	assert.Equal(t, SchemaTarget{Namespace: Data, Schema: Wildcard}, p.Target)

	p, err = Parse("/data/*/*", opts)
	require.NoError(t, err)
	assert.Equal(t, RecordTarget{Schema: Wildcard, ID: Wildcard}, p.Target)

	p, err = Parse("/data/users/*", Options{AllowWildcards: true})
	require.NoError(t, err)
	assert.Equal(t, RecordTarget{Schema: "users", ID: Wildcard}, p.Target)
	assert.True(t, p.IsDirectory)
}

func TestParseRequireFileAcceptsFiles(t *testing.T) {
	for _, raw := range []string{
		"/data/users/1/email",
		"/data/users/1.json",
		"/describe/users/email/type",
		"/describe/users/email.json",
	} {
		p, err := Parse(raw, Options{RequireFile: true})
		require.NoError(t, err, raw)
		assert.False(t, p.IsDirectory, raw)
	}
}

// Classification is total: arbitrary input yields a path or a documented code.
func TestParseTotality(t *testing.T) {
	documented := map[fserr.Code]bool{
		fserr.NotAFile:                     true,
		fserr.SchemaWildcardNotSupported:   true,
		fserr.UUIDWildcardNotSupported:     true,
		fserr.NestedPropertiesNotSupported: true,
		fserr.RequestInvalidFormat:         true,
	}
	inputs := []string{
		"", " ", "/", "//", "///data", "..", "/..", "/data/..", "*", "?", "[", "/data/[a]",
		"/data/a/b/c/d/e/f", "/describe/a/b/c/d", "\t", "/data/été", "data/users/1.json.json",
		"/describe/*/*", "/data/*/1/email", "/data/a/*/email", "/data/a/b.json/c",
	}
	optionSets := []Options{
		{},
		{AllowWildcards: true},
		{AllowWildcards: true, AllowCrossSchema: true},
		{RequireFile: true},
	}
	for _, in := range inputs {
		for _, opts := range optionSets {
			p, err := Parse(in, opts)
			if err != nil {
				assert.Nil(t, p)
				assert.True(t, documented[fserr.CodeOf(err)], "input %q: undocumented code %s", in, fserr.CodeOf(err))
				continue
			}
			require.NotNil(t, p.Target, in)
			assert.Contains(t, []Kind{KindRoot, KindNamespace, KindSchema, KindRecord, KindField, KindProperty}, p.Kind())
		}
	}
}

func TestChild(t *testing.T) {
	assert.Equal(t, "/data", Child("/", "data"))
	assert.Equal(t, "/data/users", Child("/data", "users"))
}
