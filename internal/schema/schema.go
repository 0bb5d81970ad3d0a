// Package schema holds schema and column definitions exposed under /describe.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"
)

// Column types.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeDecimal   = "decimal"
	TypeBoolean   = "boolean"
	TypeJSON      = "json"
	TypeUUID      = "uuid"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeTextArray = "text[]"
)

var validTypes = map[string]bool{
	TypeText: true, TypeInteger: true, TypeDecimal: true, TypeBoolean: true, TypeJSON: true,
	TypeUUID: true, TypeTimestamp: true, TypeDate: true, TypeTextArray: true,
}

// Column properties addressable as /describe/<schema>/<column>/<property>.
const (
	PropType         = "type"
	PropRequired     = "required"
	PropDescription  = "description"
	PropDefaultValue = "default_value"
	PropMinimum      = "minimum"
	PropMaximum      = "maximum"
	PropPattern      = "pattern"
	PropEnumValues   = "enum_values"
	PropUnique       = "unique"
	PropImmutable    = "immutable"
)

// Properties lists column properties in display order.
var Properties = []string{
	PropType,
	PropRequired,
	PropDescription,
	PropDefaultValue,
	PropMinimum,
	PropMaximum,
	PropPattern,
	PropEnumValues,
	PropUnique,
	PropImmutable,
}

// IsProperty reports whether name is a known column property.
func IsProperty(name string) bool {
	for _, p := range Properties {
		if p == name {
			return true
		}
	}
	return false
}

// Column is one column definition.
type Column struct {
	Schema       string     `json:"schema_name"`
	Name         string     `json:"column_name"`
	Type         string     `json:"type"`
	Required     bool       `json:"required"`
	Description  string     `json:"description"`
	DefaultValue any        `json:"default_value"`
	Minimum      *float64   `json:"minimum"`
	Maximum      *float64   `json:"maximum"`
	Pattern      string     `json:"pattern"`
	EnumValues   []string   `json:"enum_values"`
	Unique       bool       `json:"unique"`
	Immutable    bool       `json:"immutable"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Property returns a property value by name.
func (c *Column) Property(name string) (any, bool) {
	switch name {
	case PropType:
		return c.Type, true
	case PropRequired:
		return c.Required, true
	case PropDescription:
		return c.Description, true
	case PropDefaultValue:
		return c.DefaultValue, true
	case PropMinimum:
		return floatValue(c.Minimum), true
	case PropMaximum:
		return floatValue(c.Maximum), true
	case PropPattern:
		return c.Pattern, true
	case PropEnumValues:
		out := make([]any, len(c.EnumValues))
		for i, v := range c.EnumValues {
			out[i] = v
		}
		return out, true
	case PropUnique:
		return c.Unique, true
	case PropImmutable:
		return c.Immutable, true
	}
	return nil, false
}

// Map returns every property keyed by name, plus the column name.
func (c *Column) Map() map[string]any {
	out := make(map[string]any, len(Properties)+1)
	out["column_name"] = c.Name
	for _, p := range Properties {
		v, _ := c.Property(p)
		out[p] = v
	}
	return out
}

// SetProperty assigns a property after checking the value's type.
func (c *Column) SetProperty(name string, value any) error {
	switch name {
	case PropType:
		s, ok := value.(string)
		if !ok || !validTypes[s] {
			return fmt.Errorf("type must be one of %v", TypeNames())
		}
		c.Type = s
	case PropRequired, PropUnique, PropImmutable:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s must be a boolean", name)
		}
		switch name {
		case PropRequired:
			c.Required = b
		case PropUnique:
			c.Unique = b
		default:
			c.Immutable = b
		}
	case PropDescription, PropPattern:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", name)
		}
		if name == PropDescription {
			c.Description = s
			break
		}
		if _, err := regexp.Compile(s); err != nil {
			return fmt.Errorf("pattern: %v", err)
		}
		c.Pattern = s
	case PropDefaultValue:
		c.DefaultValue = value
	case PropMinimum, PropMaximum:
		var f *float64
		if value != nil {
			n, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("%s must be a number", name)
			}
			f = &n
		}
		if name == PropMinimum {
			c.Minimum = f
		} else {
			c.Maximum = f
		}
	case PropEnumValues:
		list, ok := toStrings(value)
		if !ok {
			return fmt.Errorf("enum_values must be an array of strings")
		}
		c.EnumValues = list
	default:
		return fmt.Errorf("unknown property %q", name)
	}
	return nil
}

// CheckValue verifies that v fits the column type and its declared
// constraints. nil is accepted.
func (c *Column) CheckValue(v any) error {
	if v == nil {
		return nil
	}
	switch c.Type {
	case TypeText, TypeUUID, TypeTimestamp, TypeDate:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("column %s expects %s, got %T", c.Name, c.Type, v)
		}
	case TypeInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("column %s expects an integer", c.Name)
		}
	case TypeDecimal:
		if _, ok := toFloat(v); !ok {
			return fmt.Errorf("column %s expects a number", c.Name)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("column %s expects a boolean", c.Name)
		}
	case TypeTextArray:
		if _, ok := toStrings(v); !ok {
			return fmt.Errorf("column %s expects an array of strings", c.Name)
		}
	}
	if len(c.EnumValues) > 0 {
		s, ok := v.(string)
		if !ok || !contains(c.EnumValues, s) {
			return fmt.Errorf("column %s must be one of %v", c.Name, c.EnumValues)
		}
	}
	if s, ok := v.(string); ok && c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return fmt.Errorf("column %s has an invalid pattern: %v", c.Name, err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("column %s does not match pattern %s", c.Name, c.Pattern)
		}
	}
	if f, ok := toFloat(v); ok {
		if c.Minimum != nil && f < *c.Minimum {
			return fmt.Errorf("column %s must be at least %v", c.Name, *c.Minimum)
		}
		if c.Maximum != nil && f > *c.Maximum {
			return fmt.Errorf("column %s must be at most %v", c.Name, *c.Maximum)
		}
	}
	return nil
}

// Schema is a table definition.
type Schema struct {
	Name        string     `json:"schema_name"`
	Description string     `json:"description"`
	Columns     []*Column  `json:"columns"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Column looks up a column by name.
func (s *Schema) Column(name string) (*Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in sorted order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// TypeNames returns the valid column types.
func TypeNames() []string {
	names := make([]string, 0, len(validTypes))
	for t := range validTypes {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case nil:
		return nil, true
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func floatValue(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := *c
	out.EnumValues = append([]string(nil), c.EnumValues...)
	if c.Minimum != nil {
		v := *c.Minimum
		out.Minimum = &v
	}
	if c.Maximum != nil {
		v := *c.Maximum
		out.Maximum = &v
	}
	return &out
}

// Clone returns a deep copy of the schema and its columns.
func (s *Schema) Clone() *Schema {
	out := *s
	out.Columns = make([]*Column, len(s.Columns))
	for i, c := range s.Columns {
		out.Columns[i] = c.Clone()
	}
	return &out
}
