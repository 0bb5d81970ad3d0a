// Package record models a relational row as seen by the filesystem.
//
// System columns are struct fields; user-defined columns live in Fields.
// Whether a name is a system field is decided by the closed set below,
// never by inspecting values.
package record

import (
	"fmt"
	"sort"
	"time"

	"github.com/fruitsalade/tenantfs/internal/acl"
)

// System field names.
const (
	FieldID         = "id"
	FieldCreatedAt  = "created_at"
	FieldUpdatedAt  = "updated_at"
	FieldTrashedAt  = "trashed_at"
	FieldAccessRead = "access_read"
	FieldAccessEdit = "access_edit"
	FieldAccessFull = "access_full"
	FieldAccessDeny = "access_deny"
)

// SystemFields are hidden from listings unless show_hidden is set.
var SystemFields = []string{
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldTrashedAt,
	FieldAccessRead,
	FieldAccessEdit,
	FieldAccessFull,
	FieldAccessDeny,
}

var systemSet = func() map[string]bool {
	m := map[string]bool{FieldID: true}
	for _, f := range SystemFields {
		m[f] = true
	}
	return m
}()

// IsSystemField reports whether name is a system column (including id).
func IsSystemField(name string) bool {
	return systemSet[name]
}

// IsHiddenField reports whether name is hidden by default. The id stays visible.
func IsHiddenField(name string) bool {
	return name != FieldID && systemSet[name]
}

// Record is one row.
type Record struct {
	ID         string
	CreatedAt  *time.Time
	UpdatedAt  *time.Time
	TrashedAt  *time.Time
	AccessRead []string
	AccessEdit []string
	AccessFull []string
	AccessDeny []string
	Fields     map[string]any
}

// New returns an empty record with the given id.
func New(id string) *Record {
	return &Record{ID: id, Fields: make(map[string]any)}
}

// ACL returns the record's access lists.
func (r *Record) ACL() acl.ACL {
	return acl.ACL{
		Read: r.AccessRead,
		Edit: r.AccessEdit,
		Full: r.AccessFull,
		Deny: r.AccessDeny,
	}
}

// Trashed reports whether the record is soft-deleted.
func (r *Record) Trashed() bool {
	return r.TrashedAt != nil
}

// Get returns the value of a user or system field.
func (r *Record) Get(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldCreatedAt:
		return timeValue(r.CreatedAt), true
	case FieldUpdatedAt:
		return timeValue(r.UpdatedAt), true
	case FieldTrashedAt:
		return timeValue(r.TrashedAt), true
	case FieldAccessRead:
		return listValue(r.AccessRead), true
	case FieldAccessEdit:
		return listValue(r.AccessEdit), true
	case FieldAccessFull:
		return listValue(r.AccessFull), true
	case FieldAccessDeny:
		return listValue(r.AccessDeny), true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Map renders the record as a JSON-ready map. System fields other than id
// are included only when showHidden is set.
func (r *Record) Map(showHidden bool) map[string]any {
	out := make(map[string]any, len(r.Fields)+len(SystemFields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldID] = r.ID
	if showHidden {
		for _, f := range SystemFields {
			v, _ := r.Get(f)
			out[f] = v
		}
	}
	return out
}

// FieldNames returns the visible field names in sorted order.
func (r *Record) FieldNames(showHidden bool) []string {
	names := make([]string, 0, len(r.Fields)+1)
	names = append(names, FieldID)
	for k := range r.Fields {
		names = append(names, k)
	}
	if showHidden {
		names = append(names, SystemFields...)
	}
	sort.Strings(names)
	return names
}

// Timestamp returns the best modification time and its source:
// updated_at, then created_at. ok is false when neither is set.
func (r *Record) Timestamp() (t time.Time, source string, ok bool) {
	if r.UpdatedAt != nil {
		return *r.UpdatedAt, FieldUpdatedAt, true
	}
	if r.CreatedAt != nil {
		return *r.CreatedAt, FieldCreatedAt, true
	}
	return time.Time{}, "", false
}

// Clone returns a deep copy of the record's top-level structure.
func (r *Record) Clone() *Record {
	c := *r
	c.CreatedAt = cloneTime(r.CreatedAt)
	c.UpdatedAt = cloneTime(r.UpdatedAt)
	c.TrashedAt = cloneTime(r.TrashedAt)
	c.AccessRead = append([]string(nil), r.AccessRead...)
	c.AccessEdit = append([]string(nil), r.AccessEdit...)
	c.AccessFull = append([]string(nil), r.AccessFull...)
	c.AccessDeny = append([]string(nil), r.AccessDeny...)
	c.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return &c
}

// SplitUserFields separates content into user fields, dropping system
// fields. ACL arrays present in content are returned separately so writers
// can carry them through.
func SplitUserFields(content map[string]any) (fields map[string]any, access map[string][]string, err error) {
	fields = make(map[string]any, len(content))
	access = make(map[string][]string)
	for k, v := range content {
		switch k {
		case FieldAccessRead, FieldAccessEdit, FieldAccessFull, FieldAccessDeny:
			list, err := toStringList(v)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", k, err)
			}
			access[k] = list
		default:
			if IsSystemField(k) {
				continue
			}
			fields[k] = v
		}
	}
	return fields, access, nil
}

// ApplyAccess sets the ACL arrays named in access.
func (r *Record) ApplyAccess(access map[string][]string) {
	for k, v := range access {
		switch k {
		case FieldAccessRead:
			r.AccessRead = v
		case FieldAccessEdit:
			r.AccessEdit = v
		case FieldAccessFull:
			r.AccessFull = v
		case FieldAccessDeny:
			r.AccessDeny = v
		}
	}
}

func toStringList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string ids, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an array of ids, got %T", v)
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func listValue(l []string) []any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
