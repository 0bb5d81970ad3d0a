package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

// Rows travel as jsonb in both directions: to_jsonb(t) on the way out and
// jsonb_populate_record on the way in, so user columns of any declared type
// need no per-type scanning code.

// systemColumns are written on every update. id and created_at never change.
var systemColumns = []string{
	record.FieldUpdatedAt,
	record.FieldTrashedAt,
	record.FieldAccessRead,
	record.FieldAccessEdit,
	record.FieldAccessFull,
	record.FieldAccessDeny,
}

func decodeRow(data []byte) (*record.Record, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	id, ok := m[record.FieldID].(string)
	if !ok {
		return nil, fmt.Errorf("decode row: id is %T", m[record.FieldID])
	}
	r := record.New(id)
	var err error
	if r.CreatedAt, err = parseTime(m[record.FieldCreatedAt]); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(m[record.FieldUpdatedAt]); err != nil {
		return nil, err
	}
	if r.TrashedAt, err = parseTime(m[record.FieldTrashedAt]); err != nil {
		return nil, err
	}
	fields, access, err := record.SplitUserFields(m)
	if err != nil {
		return nil, fmt.Errorf("decode row %s: %w", id, err)
	}
	r.Fields = fields
	r.ApplyAccess(access)
	return r, nil
}

func parseTime(v any) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp %q: %w", val, err)
		}
		t = t.UTC()
		return &t, nil
	default:
		return nil, fmt.Errorf("decode timestamp: unexpected %T", v)
	}
}

// encodeRow renders r as the jsonb argument of jsonb_populate_record.
func encodeRow(r *record.Record) (string, error) {
	data, err := json.Marshal(r.Map(true))
	if err != nil {
		return "", fmt.Errorf("encode row %s: %w", r.ID, err)
	}
	return string(data), nil
}

// whereClause renders f as " WHERE ..." over alias t, appending its
// arguments. Values compare as jsonb so equality follows the JSON value,
// not the column's text rendering.
func whereClause(f metadata.Filter, args []any) (string, []any, error) {
	var conds []string
	if !f.IncludeTrashed {
		conds = append(conds, "t.trashed_at IS NULL")
	}
	keys := make([]string, 0, len(f.Where))
	for k := range f.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f.Where[k]
		if id, ok := v.(string); ok && k == record.FieldID {
			args = append(args, id)
			conds = append(conds, fmt.Sprintf("t.id = $%d", len(args)))
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %s: %w", k, err)
		}
		args = append(args, string(data))
		conds = append(conds, fmt.Sprintf("to_jsonb(t.%s) = $%d::jsonb", quote(k), len(args)))
	}
	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// updateColumns lists the columns an update rewrites for sc.
func updateColumns(sc *schema.Schema) string {
	cols := make([]string, 0, len(systemColumns)+len(sc.Columns))
	for _, c := range systemColumns {
		cols = append(cols, quote(c))
	}
	for _, name := range sc.ColumnNames() {
		cols = append(cols, quote(name))
	}
	return strings.Join(cols, ", ")
}

var sqlTypes = map[string]string{
	schema.TypeText:      "TEXT",
	schema.TypeInteger:   "BIGINT",
	schema.TypeDecimal:   "NUMERIC",
	schema.TypeBoolean:   "BOOLEAN",
	schema.TypeJSON:      "JSONB",
	schema.TypeUUID:      "UUID",
	schema.TypeTimestamp: "TIMESTAMPTZ",
	schema.TypeDate:      "DATE",
	schema.TypeTextArray: "TEXT[]",
}

// columnDDL renders one user column of a CREATE TABLE statement.
func columnDDL(c *schema.Column) (string, error) {
	typ, ok := sqlTypes[c.Type]
	if !ok {
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
	if record.IsSystemField(c.Name) {
		return "", fmt.Errorf("column %s: name is reserved", c.Name)
	}
	ddl := quote(c.Name) + " " + typ
	if c.Unique {
		ddl += " UNIQUE"
	}
	return ddl, nil
}

// tableDDL renders CREATE TABLE for sc inside namespace.
func tableDDL(namespace string, sc *schema.Schema) (string, error) {
	parts := []string{
		"id TEXT PRIMARY KEY",
		"created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		"updated_at TIMESTAMPTZ",
		"trashed_at TIMESTAMPTZ",
		"access_read TEXT[] NOT NULL DEFAULT '{}'",
		"access_edit TEXT[] NOT NULL DEFAULT '{}'",
		"access_full TEXT[] NOT NULL DEFAULT '{}'",
		"access_deny TEXT[] NOT NULL DEFAULT '{}'",
	}
	for _, c := range sc.Columns {
		ddl, err := columnDDL(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, ddl)
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (\n\t%s\n)", quote(namespace), quote(sc.Name), strings.Join(parts, ",\n\t")), nil
}
