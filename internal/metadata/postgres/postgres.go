// Package postgres provides the PostgreSQL-backed tenant store with metrics.
//
// Every tenant owns a PostgreSQL schema (its namespace). Inside it, each
// user-defined schema is a table, and the definitions themselves live in the
// schemas and columns metadata tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metrics"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

// Pool sizes the connection pool.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPool matches the sizing the server uses when nothing is configured.
var DefaultPool = Pool{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}

// Store is a PostgreSQL tenant store. It hands out dedicated connections to
// the transaction runtime and binds data access to them.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens and pings the database.
func New(databaseURL string, pool Pool) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying pool for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs the *.up.sql files of migrationsDir in name order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// Connect takes a dedicated connection out of the pool.
func (s *Store) Connect(ctx context.Context) (txn.Conn, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("connect", time.Since(start)) }()

	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{c: c}, nil
}

// Bind returns the stores for a session opened on this Store.
func (s *Store) Bind(sess *txn.Session) (metadata.Database, metadata.Describe) {
	c, ok := sess.Conn.(*conn)
	if !ok {
		panic(fmt.Sprintf("postgres: session %s was not opened by a postgres store", sess.ID))
	}
	b := &binding{c: c, sess: sess, now: s.now}
	return b, b
}

// quote returns a safely quoted identifier.
func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

// timed records the duration of one query under name.
func timed(name string) func() {
	start := time.Now()
	return func() { metrics.RecordDBQuery(name, time.Since(start)) }
}
