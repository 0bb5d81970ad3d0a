// Package vpath classifies virtual filesystem paths.
//
// The tree has two namespaces:
//
//	/data/<schema>/<id>/<field>
//	/describe/<schema>/<column>/<property>
//
// A record or column segment ending in ".json" addresses the whole record
// (or column definition) as a single file instead of a directory.
package vpath

import (
	"path"
	"strings"
)

// Namespace is the first path segment.
type Namespace string

const (
	NamespaceNone Namespace = ""
	Data          Namespace = "data"
	Describe      Namespace = "describe"
)

// Namespaces lists the top-level directories in display order.
var Namespaces = []Namespace{Data, Describe}

// Kind is the classified category of a path.
type Kind int

const (
	KindRoot Kind = iota
	KindNamespace
	KindSchema
	KindRecord
	KindField
	KindProperty
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindNamespace:
		return "namespace"
	case KindSchema:
		return "schema"
	case KindRecord:
		return "record"
	case KindField:
		return "field"
	case KindProperty:
		return "property"
	default:
		return "unknown"
	}
}

const (
	// Wildcard selects every schema or every record.
	Wildcard = "*"

	// JSONSuffix marks the file form of a record or column.
	JSONSuffix = ".json"
)

// Target is the closed set of things a path can address. Dispatch sites
// type-switch over the concrete variants below.
type Target interface {
	Kind() Kind
	isTarget()
}

// RootTarget is "/".
type RootTarget struct{}

// NamespaceTarget is "/data" or "/describe".
type NamespaceTarget struct {
	Namespace Namespace
}

// SchemaTarget is "/data/<schema>" or "/describe/<schema>".
type SchemaTarget struct {
	Namespace Namespace
	Schema    string
}

// RecordTarget is "/data/<schema>/<id>".
type RecordTarget struct {
	Schema string
	ID     string
}

// FieldTarget is "/data/<schema>/<id>/<field>".
type FieldTarget struct {
	Schema string
	ID     string
	Field  string
}

// ColumnTarget is "/describe/<schema>/<column>". It classifies as a record.
type ColumnTarget struct {
	Schema string
	Column string
}

// PropertyTarget is "/describe/<schema>/<column>/<property>".
type PropertyTarget struct {
	Schema   string
	Column   string
	Property string
}

func (RootTarget) Kind() Kind      { return KindRoot }
func (NamespaceTarget) Kind() Kind { return KindNamespace }
func (SchemaTarget) Kind() Kind    { return KindSchema }
func (RecordTarget) Kind() Kind    { return KindRecord }
func (FieldTarget) Kind() Kind     { return KindField }
func (ColumnTarget) Kind() Kind    { return KindRecord }
func (PropertyTarget) Kind() Kind  { return KindProperty }

func (RootTarget) isTarget()      {}
func (NamespaceTarget) isTarget() {}
func (SchemaTarget) isTarget()    {}
func (RecordTarget) isTarget()    {}
func (FieldTarget) isTarget()     {}
func (ColumnTarget) isTarget()    {}
func (PropertyTarget) isTarget()  {}

// Path is a classified path.
type Path struct {
	Raw          string
	Normalized   string
	Namespace    Namespace
	Target       Target
	HasWildcards bool
	IsDirectory  bool
	IsJSONFile   bool
}

// Kind returns the kind of the addressed target.
func (p *Path) Kind() Kind {
	return p.Target.Kind()
}

// Schema returns the schema segment, or "" for root and namespace paths.
func (p *Path) Schema() string {
	switch t := p.Target.(type) {
	case SchemaTarget:
		return t.Schema
	case RecordTarget:
		return t.Schema
	case FieldTarget:
		return t.Schema
	case ColumnTarget:
		return t.Schema
	case PropertyTarget:
		return t.Schema
	default:
		return ""
	}
}

func (p *Path) String() string {
	return p.Normalized
}

// Child joins a directory path with an entry name.
func Child(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Normalize cleans a raw path: adds the leading slash, collapses repeated
// slashes, resolves "." and ".." lexically and drops the trailing slash.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "/"
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return path.Clean(s)
}

func segments(normalized string) []string {
	trimmed := strings.Trim(normalized, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
