// Package content computes size, content type and ETag for filesystem values.
//
// All measurements are taken over the canonical string form of a value:
// strings are used as-is, everything else is JSON encoded.
package content

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

const (
	TypeJSON  = "application/json"
	TypeText  = "text/plain"
	TypeHTML  = "text/html"
	TypeXML   = "application/xml"
	TypeMD    = "text/markdown"
	TypeCSV   = "text/csv"
	TypeYAML  = "application/yaml"
	TypeBytes = "application/octet-stream"
)

// Canonical returns the string form of v used for size and hashing.
func Canonical(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case json.RawMessage:
		return string(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Size returns the byte length of the canonical form.
func Size(v any) int64 {
	return int64(len(Canonical(v)))
}

// ETag returns a stable fingerprint of the canonical form.
func ETag(v any) string {
	sum := blake2b.Sum256([]byte(Canonical(v)))
	return hex.EncodeToString(sum[:16])
}

// IsComposite reports whether v is an object or array.
func IsComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any, []string, []map[string]any, json.RawMessage:
		return true
	}
	return false
}

var nameHints = []struct {
	suffix string
	ctype  string
}{
	{"json", TypeJSON},
	{"html", TypeHTML},
	{"xml", TypeXML},
	{"md", TypeMD},
	{"markdown", TypeMD},
	{"csv", TypeCSV},
	{"yaml", TypeYAML},
	{"yml", TypeYAML},
}

// ContentType guesses the media type of a value stored under name.
func ContentType(name string, v any) string {
	if IsComposite(v) {
		return TypeJSON
	}
	s, ok := v.(string)
	if !ok {
		return TypeText
	}

	lower := strings.ToLower(name)
	for _, h := range nameHints {
		if strings.HasSuffix(lower, "_"+h.suffix) || strings.HasSuffix(lower, "."+h.suffix) || lower == h.suffix {
			return h.ctype
		}
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return TypeText
	}
	if (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		return TypeJSON
	}

	mt := mimetype.Detect([]byte(s))
	switch {
	case mt.Is("text/html"):
		return TypeHTML
	case mt.Is("text/xml"), mt.Is("application/xml"):
		return TypeXML
	case strings.HasPrefix(mt.String(), "text/"):
		return TypeText
	case mt.Is(TypeBytes):
		return TypeText
	default:
		return mt.String()
	}
}

// Partial is a byte-range view of a string.
type Partial struct {
	Content   string
	Offset    int64
	Total     int64
	CanResume bool
}

// Slice returns the bytes of s starting at start (clamped to [0, len]) and
// at most max bytes long when max is non-nil. CanResume reports whether
// bytes remain after the returned range.
func Slice(s string, start int64, max *int64) Partial {
	total := int64(len(s))
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if max != nil {
		limit := *max
		if limit < 0 {
			limit = 0
		}
		if start+limit < end {
			end = start + limit
		}
	}
	return Partial{
		Content:   s[start:end],
		Offset:    start,
		Total:     total,
		CanResume: end < total,
	}
}
