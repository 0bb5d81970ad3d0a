// Package metadata defines the row and schema stores the filesystem reads
// and writes through. Implementations live in the postgres and memory
// subpackages; both execute on the connection of a txn.Session.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

var (
	// ErrNotFound is returned when an update or delete matches no row.
	ErrNotFound = errors.New("row not found")

	// ErrUnknownNamespace is returned when the search path names a
	// namespace that does not exist.
	ErrUnknownNamespace = errors.New("unknown namespace")

	// ErrUnknownColumn is returned when a row carries a field its schema
	// does not declare.
	ErrUnknownColumn = errors.New("unknown column")
)

// CheckColumns reports the first user field of r that sc does not declare.
func CheckColumns(sc *schema.Schema, r *record.Record) error {
	for k := range r.Fields {
		if _, ok := sc.Column(k); !ok {
			return fmt.Errorf("%w %q in %s", ErrUnknownColumn, k, sc.Name)
		}
	}
	return nil
}

// Filter selects rows of one schema.
type Filter struct {
	// Where holds column equality conditions.
	Where map[string]any
	// Limit caps the number of rows; zero means no limit.
	Limit int
	// IncludeTrashed also matches soft-deleted rows.
	IncludeTrashed bool
}

// ByID returns a filter matching a single id, trashed or not.
func ByID(id string) Filter {
	return Filter{Where: map[string]any{record.FieldID: id}, Limit: 1, IncludeTrashed: true}
}

// Database is row-level access to the schemas of one namespace.
type Database interface {
	// SelectOne returns the first matching row or nil.
	SelectOne(ctx context.Context, schema string, f Filter) (*record.Record, error)
	// SelectAny returns matching rows ordered by id.
	SelectAny(ctx context.Context, schema string, f Filter) ([]*record.Record, error)
	// CreateOne inserts r and returns the stored row.
	CreateOne(ctx context.Context, schema string, r *record.Record) (*record.Record, error)
	// UpdateOne replaces the stored row with r's fields, access lists and
	// trashed_at, and returns the stored row.
	UpdateOne(ctx context.Context, schema string, r *record.Record) (*record.Record, error)
	// DeleteOne soft-deletes a row.
	DeleteOne(ctx context.Context, schema string, id string) (*record.Record, error)
	Count(ctx context.Context, schema string, f Filter) (int64, error)
}

// Describe is access to schema and column definitions.
type Describe interface {
	LoadSchemas(ctx context.Context) ([]*schema.Schema, error)
	UpdateColumn(ctx context.Context, col *schema.Column) (*schema.Column, error)
}

// Binder returns the stores that execute on a session's connection.
type Binder interface {
	Bind(sess *txn.Session) (Database, Describe)
}

// CacheLoader adapts a Binder to the runtime's schema cache loader.
func CacheLoader(b Binder) txn.CacheLoader {
	return func(ctx context.Context, sess *txn.Session) (*schema.Cache, error) {
		_, d := b.Bind(sess)
		list, err := d.LoadSchemas(ctx)
		if err != nil {
			return nil, err
		}
		return schema.NewCache(list), nil
	}
}
