package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

// binding runs Database and Describe queries on a session's transaction.
// Table names are unqualified and resolve through the search path.
type binding struct {
	c    *conn
	sess *txn.Session
	now  func() time.Time
}

func (b *binding) SelectAny(ctx context.Context, name string, f metadata.Filter) ([]*record.Record, error) {
	defer timed("select_any")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(f, nil)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT to_jsonb(t) FROM %s AS t%s ORDER BY t.id`, quote(name), where)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *binding) SelectOne(ctx context.Context, name string, f metadata.Filter) (*record.Record, error) {
	f.Limit = 1
	list, err := b.SelectAny(ctx, name, f)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (b *binding) Count(ctx context.Context, name string, f metadata.Filter) (int64, error) {
	defer timed("count")()
	tx, err := b.c.q()
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(f, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf(`SELECT count(*) FROM %s AS t%s`, quote(name), where)
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

func (b *binding) CreateOne(ctx context.Context, name string, r *record.Record) (*record.Record, error) {
	defer timed("create_one")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}
	sc, err := b.schema(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := metadata.CheckColumns(sc, r); err != nil {
		return nil, err
	}
	now := b.now()
	row := r.Clone()
	row.CreatedAt = &now
	row.UpdatedAt = &now
	data, err := encodeRow(row)
	if err != nil {
		return nil, err
	}

	var out []byte
	q := fmt.Sprintf(`INSERT INTO %[1]s AS t
		SELECT * FROM jsonb_populate_record(NULL::%[1]s, $1::jsonb)
		RETURNING to_jsonb(t)`, quote(name))
	err = tx.QueryRowContext(ctx, q, data).Scan(&out)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return nil, fmt.Errorf("duplicate key %q in %s: %w", r.ID, name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", name, err)
	}
	return decodeRow(out)
}

func (b *binding) UpdateOne(ctx context.Context, name string, r *record.Record) (*record.Record, error) {
	defer timed("update_one")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}
	sc, err := b.schema(ctx, name)
	if err != nil {
		return nil, err
	}
	// jsonb_populate_record drops keys with no matching column.
	if err := metadata.CheckColumns(sc, r); err != nil {
		return nil, err
	}
	now := b.now()
	row := r.Clone()
	row.UpdatedAt = &now
	data, err := encodeRow(row)
	if err != nil {
		return nil, err
	}

	var out []byte
	q := fmt.Sprintf(`UPDATE %[1]s AS t SET (%[2]s) =
		(SELECT %[2]s FROM jsonb_populate_record(NULL::%[1]s, $1::jsonb))
		WHERE t.id = $2
		RETURNING to_jsonb(t)`, quote(name), updateColumns(sc))
	err = tx.QueryRowContext(ctx, q, data, r.ID).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", name, err)
	}
	return decodeRow(out)
}

func (b *binding) DeleteOne(ctx context.Context, name string, id string) (*record.Record, error) {
	defer timed("delete_one")()
	tx, err := b.c.q()
	if err != nil {
		return nil, err
	}
	var out []byte
	q := fmt.Sprintf(`UPDATE %s AS t SET trashed_at = $2, updated_at = $2
		WHERE t.id = $1 AND t.trashed_at IS NULL
		RETURNING to_jsonb(t)`, quote(name))
	err = tx.QueryRowContext(ctx, q, id, b.now()).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("soft delete %s: %w", name, err)
	}
	return decodeRow(out)
}

func (b *binding) schema(ctx context.Context, name string) (*schema.Schema, error) {
	c, err := b.sess.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	sc, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return sc, nil
}
