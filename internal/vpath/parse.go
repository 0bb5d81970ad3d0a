package vpath

import (
	"strings"
	"unicode"

	"github.com/fruitsalade/tenantfs/internal/fserr"
)

// Options control which forms a verb accepts.
type Options struct {
	// AllowWildcards permits "*" as the schema or record segment.
	AllowWildcards bool

	// AllowCrossSchema permits a schema wildcard followed by a record segment.
	AllowCrossSchema bool

	// RequireFile rejects directory paths with NOT_A_FILE.
	RequireFile bool
}

// Parse classifies raw into a Path. Every input yields either a Path or an
// *fserr.Error; Parse never panics.
func Parse(raw string, opts Options) (*Path, error) {
	p := &Path{Raw: raw, Normalized: Normalize(raw)}

	segs := segments(p.Normalized)
	for _, s := range segs {
		if hasControl(s) {
			return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "path contains control characters")
		}
	}

	if len(segs) == 0 {
		p.Target = RootTarget{}
		p.IsDirectory = true
		return finish(p, opts)
	}

	ns := Namespace(segs[0])
	switch ns {
	case Data, Describe:
		p.Namespace = ns
	default:
		if isWildcardLike(segs[0]) {
			return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "wildcards are not allowed in the namespace segment")
		}
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "unknown namespace %q", segs[0])
	}

	rest := segs[1:]
	if len(rest) == 0 {
		p.Target = NamespaceTarget{Namespace: ns}
		p.IsDirectory = true
		return finish(p, opts)
	}

	schema, err := parseSchema(p, rest[0], len(rest) > 1, opts)
	if err != nil {
		return nil, err
	}
	if len(rest) == 1 {
		p.Target = SchemaTarget{Namespace: ns, Schema: schema}
		p.IsDirectory = true
		return finish(p, opts)
	}

	second, isJSON, err := parseSecond(p, rest[1], len(rest) == 2, opts)
	if err != nil {
		return nil, err
	}
	if len(rest) == 2 {
		p.IsJSONFile = isJSON
		p.IsDirectory = !isJSON
		if ns == Data {
			p.Target = RecordTarget{Schema: schema, ID: second}
		} else {
			p.Target = ColumnTarget{Schema: schema, Column: second}
		}
		return finish(p, opts)
	}

	if len(rest) > 3 {
		if ns == Describe {
			return nil, fserr.New(fserr.NestedPropertiesNotSupported, p.Normalized, "column properties cannot be nested")
		}
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "fields cannot contain sub-paths")
	}

	leaf := rest[2]
	if isWildcardLike(leaf) {
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "wildcards are only allowed as schema or record selectors")
	}
	if ns == Data {
		p.Target = FieldTarget{Schema: schema, ID: second, Field: leaf}
	} else {
		p.Target = PropertyTarget{Schema: schema, Column: second, Property: leaf}
	}
	return finish(p, opts)
}

// MustParse parses with no options and panics on error. Intended for tests
// and constant paths.
func MustParse(raw string) *Path {
	p, err := Parse(raw, Options{})
	if err != nil {
		panic(err)
	}
	return p
}

func parseSchema(p *Path, seg string, hasChild bool, opts Options) (string, error) {
	if seg == Wildcard {
		if !opts.AllowWildcards {
			return "", fserr.New(fserr.SchemaWildcardNotSupported, p.Normalized, "schema wildcards are not supported here")
		}
		if hasChild && !opts.AllowCrossSchema {
			return "", fserr.New(fserr.SchemaWildcardNotSupported, p.Normalized, "cross-schema selection is not supported here")
		}
		p.HasWildcards = true
		return seg, nil
	}
	if isWildcardLike(seg) {
		return "", fserr.New(fserr.RequestInvalidFormat, p.Normalized, "invalid wildcard %q in schema segment", seg)
	}
	return seg, nil
}

func parseSecond(p *Path, seg string, last bool, opts Options) (string, bool, error) {
	isJSON := false
	if last && strings.HasSuffix(seg, JSONSuffix) {
		seg = strings.TrimSuffix(seg, JSONSuffix)
		isJSON = true
		if seg == "" {
			return "", false, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "empty name before %s", JSONSuffix)
		}
	}
	if seg == Wildcard && !isJSON {
		if !opts.AllowWildcards {
			return "", false, fserr.New(fserr.UUIDWildcardNotSupported, p.Normalized, "record wildcards are not supported here")
		}
		p.HasWildcards = true
		return seg, false, nil
	}
	if isWildcardLike(seg) {
		return "", false, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "invalid wildcard %q in record segment", seg)
	}
	return seg, isJSON, nil
}

func finish(p *Path, opts Options) (*Path, error) {
	if opts.RequireFile && p.IsDirectory {
		return nil, fserr.New(fserr.NotAFile, p.Normalized, "%s is a directory", p.Kind())
	}
	return p, nil
}

func isWildcardLike(s string) bool {
	return strings.ContainsAny(s, "*?[]")
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
