package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

const columnFields = `schema_name, column_name, type, required, description, default_value,
	minimum, maximum, pattern, enum_values, is_unique, immutable, created_at, updated_at`

func (b *binding) LoadSchemas(ctx context.Context) ([]*schema.Schema, error) {
	defer timed("load_schemas")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT name, description, created_at, updated_at FROM schemas ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var list []*schema.Schema
	byName := make(map[string]*schema.Schema)
	for rows.Next() {
		var (
			sc      schema.Schema
			desc    sql.NullString
			created sql.NullTime
			updated sql.NullTime
		)
		if err := rows.Scan(&sc.Name, &desc, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		sc.Description = desc.String
		sc.CreatedAt = nullTime(created)
		sc.UpdatedAt = nullTime(updated)
		list = append(list, &sc)
		byName[sc.Name] = &sc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	cols, err := tx.QueryContext(ctx,
		`SELECT `+columnFields+` FROM columns ORDER BY schema_name, position, column_name`)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer cols.Close()

	for cols.Next() {
		col, err := scanColumn(cols)
		if err != nil {
			return nil, err
		}
		if sc, ok := byName[col.Schema]; ok {
			sc.Columns = append(sc.Columns, col)
		}
	}
	return list, cols.Err()
}

func (b *binding) UpdateColumn(ctx context.Context, col *schema.Column) (*schema.Column, error) {
	defer timed("update_column")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}
	var def any
	if col.DefaultValue != nil {
		data, err := json.Marshal(col.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("encode default of %s.%s: %w", col.Schema, col.Name, err)
		}
		def = string(data)
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE columns SET type = $3, required = $4, description = $5, default_value = $6::jsonb,
			minimum = $7, maximum = $8, pattern = $9, enum_values = $10, is_unique = $11,
			immutable = $12, updated_at = $13
		 WHERE schema_name = $1 AND column_name = $2
		 RETURNING `+columnFields,
		col.Schema, col.Name, col.Type, col.Required, col.Description, def,
		col.Minimum, col.Maximum, col.Pattern, pq.Array(col.EnumValues), col.Unique,
		col.Immutable, b.now())
	updated, err := scanColumn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("column %s.%s: %w", col.Schema, col.Name, metadata.ErrNotFound)
	}
	return updated, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanColumn(s scanner) (*schema.Column, error) {
	var (
		col     schema.Column
		desc    sql.NullString
		def     []byte
		lo, hi  sql.NullFloat64
		pattern sql.NullString
		enum    []string
		created sql.NullTime
		updated sql.NullTime
	)
	err := s.Scan(&col.Schema, &col.Name, &col.Type, &col.Required, &desc, &def,
		&lo, &hi, &pattern, pq.Array(&enum), &col.Unique, &col.Immutable, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan column: %w", err)
	}
	col.Description = desc.String
	col.Pattern = pattern.String
	col.EnumValues = enum
	if lo.Valid {
		col.Minimum = &lo.Float64
	}
	if hi.Valid {
		col.Maximum = &hi.Float64
	}
	if def != nil {
		if err := json.Unmarshal(def, &col.DefaultValue); err != nil {
			return nil, fmt.Errorf("decode default of %s.%s: %w", col.Schema, col.Name, err)
		}
	}
	col.CreatedAt = nullTime(created)
	col.UpdatedAt = nullTime(updated)
	return &col, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
