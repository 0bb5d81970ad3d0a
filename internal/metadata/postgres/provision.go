package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

// namespaceDDL creates the definition tables of a tenant namespace. %[1]s is
// the quoted namespace.
const namespaceDDL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.schemas (
    name        TEXT PRIMARY KEY,
    description TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS %[1]s.columns (
    schema_name   TEXT NOT NULL REFERENCES %[1]s.schemas(name) ON DELETE CASCADE,
    column_name   TEXT NOT NULL,
    position      INTEGER NOT NULL DEFAULT 0,
    type          TEXT NOT NULL,
    required      BOOLEAN NOT NULL DEFAULT FALSE,
    description   TEXT,
    default_value JSONB,
    minimum       DOUBLE PRECISION,
    maximum       DOUBLE PRECISION,
    pattern       TEXT,
    enum_values   TEXT[],
    is_unique     BOOLEAN NOT NULL DEFAULT FALSE,
    immutable     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ,
    PRIMARY KEY (schema_name, column_name)
);
`

// CreateTenant creates namespace with its definition tables and registers
// tenant in public.tenants.
func (s *Store) CreateTenant(ctx context.Context, tenant, namespace string) error {
	defer timed("create_tenant")()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(namespaceDDL, quote(namespace))); err != nil {
			return fmt.Errorf("create namespace %s: %w", namespace, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO public.tenants (name, namespace) VALUES ($1, $2)
			 ON CONFLICT (name) DO UPDATE SET namespace = EXCLUDED.namespace, trashed_at = NULL`,
			tenant, namespace)
		if err != nil {
			return fmt.Errorf("register tenant %s: %w", tenant, err)
		}
		logging.Info("tenant created", zap.String("tenant", tenant), zap.String("namespace", namespace))
		return nil
	})
}

// DefineSchema creates the table for sc inside namespace and records its
// definition.
func (s *Store) DefineSchema(ctx context.Context, namespace string, sc *schema.Schema) error {
	defer timed("define_schema")()
	ddl, err := tableDDL(namespace, sc)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", sc.Name, err)
		}
		ns := quote(namespace)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+ns+`.schemas (name, description) VALUES ($1, $2)`,
			sc.Name, sc.Description)
		if err != nil {
			return fmt.Errorf("record schema %s: %w", sc.Name, err)
		}
		for i, c := range sc.Columns {
			var def any
			if c.DefaultValue != nil {
				data, err := json.Marshal(c.DefaultValue)
				if err != nil {
					return fmt.Errorf("encode default of %s.%s: %w", sc.Name, c.Name, err)
				}
				def = string(data)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+ns+`.columns (schema_name, column_name, position, type, required,
					description, default_value, minimum, maximum, pattern, enum_values, is_unique, immutable)
				 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)`,
				sc.Name, c.Name, i, c.Type, c.Required, c.Description, def,
				c.Minimum, c.Maximum, c.Pattern, pq.Array(c.EnumValues), c.Unique, c.Immutable)
			if err != nil {
				return fmt.Errorf("record column %s.%s: %w", sc.Name, c.Name, err)
			}
		}
		logging.Info("schema defined", zap.String("namespace", namespace), zap.String("schema", sc.Name),
			zap.Int("columns", len(sc.Columns)))
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
