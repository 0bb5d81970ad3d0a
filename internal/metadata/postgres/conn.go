package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
)

// conn is one pooled connection pinned to a unit of work.
type conn struct {
	c      *sql.Conn
	tx     *sql.Tx
	closed bool
}

func (c *conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := c.c.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx
	return nil
}

// SetSearchPath installs namespace with transaction scope; PostgreSQL
// restores the previous value when the transaction ends.
func (c *conn) SetSearchPath(ctx context.Context, namespace string) error {
	if c.tx == nil {
		return errors.New("search path requires an open transaction")
	}
	defer timed("set_search_path")()
	if _, err := c.tx.ExecContext(ctx, `SELECT set_config('search_path', $1, true)`, quote(namespace)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("no transaction")
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("no transaction")
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

// Close rolls back an open transaction and returns the connection to the
// pool.
func (c *conn) Close() error {
	if c.closed {
		return errors.New("connection already closed")
	}
	c.closed = true
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn("rollback on close failed", zap.Error(err))
		}
		c.tx = nil
	}
	return c.c.Close()
}

// q is the executor of the current transaction.
func (c *conn) q() (*sql.Tx, error) {
	if c.tx == nil {
		return nil, errors.New("no transaction")
	}
	return c.tx, nil
}
