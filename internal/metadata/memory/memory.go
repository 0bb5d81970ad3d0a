// Package memory is an in-process metadata store with real transaction
// semantics. Each transaction works on a private copy of its namespace that
// replaces the shared copy on commit; concurrent commits to the same
// namespace are last-writer-wins.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fruitsalade/tenantfs/internal/content"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

type namespace struct {
	schemas map[string]*schema.Schema
	rows    map[string]map[string]*record.Record
}

func newNamespace() *namespace {
	return &namespace{
		schemas: make(map[string]*schema.Schema),
		rows:    make(map[string]map[string]*record.Record),
	}
}

func (n *namespace) clone() *namespace {
	out := newNamespace()
	for name, s := range n.schemas {
		out.schemas[name] = s.Clone()
	}
	for name, rows := range n.rows {
		m := make(map[string]*record.Record, len(rows))
		for id, r := range rows {
			m[id] = r.Clone()
		}
		out.rows[name] = m
	}
	return out
}

// Stats counts connections handed out by the store.
type Stats struct {
	Open         int
	Opened       int
	Closed       int
	DoubleCloses int
	Commits      int
	Rollbacks    int
}

// Store holds every namespace in memory.
type Store struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	stats      Stats
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		namespaces: make(map[string]*namespace),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateNamespace adds an empty namespace if it does not exist.
func (s *Store) CreateNamespace(ns string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns]; !ok {
		s.namespaces[ns] = newNamespace()
	}
}

// Seed installs a schema and rows into a namespace outside any transaction.
// Schemas, columns and rows without timestamps get the current time.
func (s *Store) Seed(ns string, sc *schema.Schema, rows ...*record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[ns]
	if !ok {
		n = newNamespace()
		s.namespaces[ns] = n
	}
	now := s.now()
	sc = sc.Clone()
	if sc.CreatedAt == nil {
		sc.CreatedAt = &now
	}
	for _, c := range sc.Columns {
		c.Schema = sc.Name
		if c.CreatedAt == nil {
			c.CreatedAt = &now
		}
	}
	n.schemas[sc.Name] = sc
	if n.rows[sc.Name] == nil {
		n.rows[sc.Name] = make(map[string]*record.Record)
	}
	for _, r := range rows {
		r = r.Clone()
		if r.CreatedAt == nil {
			r.CreatedAt = &now
		}
		n.rows[sc.Name][r.ID] = r
	}
}

// Stats returns connection counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Connect hands out a new connection.
func (s *Store) Connect(ctx context.Context) (txn.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Open++
	s.stats.Opened++
	return &conn{store: s}, nil
}

// Bind returns the stores for a session opened on this Store.
func (s *Store) Bind(sess *txn.Session) (metadata.Database, metadata.Describe) {
	c, ok := sess.Conn.(*conn)
	if !ok {
		panic(fmt.Sprintf("memory: session %s was not opened by a memory store", sess.ID))
	}
	b := &binding{c: c}
	return b, b
}

type conn struct {
	store  *Store
	inTx   bool
	closed bool
	ns     string
	work   *namespace
}

func (c *conn) Begin(ctx context.Context) error {
	if c.closed {
		return errors.New("connection closed")
	}
	if c.inTx {
		return errors.New("transaction already open")
	}
	c.inTx = true
	return nil
}

func (c *conn) SetSearchPath(ctx context.Context, ns string) error {
	if !c.inTx {
		return errors.New("search path requires an open transaction")
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	base, ok := c.store.namespaces[ns]
	if !ok {
		return fmt.Errorf("%w: %s", metadata.ErrUnknownNamespace, ns)
	}
	c.ns = ns
	c.work = base.clone()
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if !c.inTx {
		return errors.New("no transaction")
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.work != nil {
		c.store.namespaces[c.ns] = c.work
	}
	c.store.stats.Commits++
	c.reset()
	return nil
}

func (c *conn) Rollback(ctx context.Context) error {
	if !c.inTx {
		return errors.New("no transaction")
	}
	c.store.mu.Lock()
	c.store.stats.Rollbacks++
	c.store.mu.Unlock()
	c.reset()
	return nil
}

func (c *conn) Close() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		c.store.stats.DoubleCloses++
		return errors.New("connection already closed")
	}
	if c.inTx {
		c.store.stats.Rollbacks++
	}
	c.reset()
	c.closed = true
	c.store.stats.Open--
	c.store.stats.Closed++
	return nil
}

// reset ends the transaction; the search path goes with it.
func (c *conn) reset() {
	c.inTx = false
	c.ns = ""
	c.work = nil
}

type binding struct {
	c *conn
}

func (b *binding) ns() (*namespace, error) {
	if b.c.work == nil {
		return nil, errors.New("no search path set")
	}
	return b.c.work, nil
}

func (b *binding) checkRow(name string, r *record.Record) error {
	n, err := b.ns()
	if err != nil {
		return err
	}
	return metadata.CheckColumns(n.schemas[name], r)
}

func (b *binding) table(name string) (map[string]*record.Record, error) {
	n, err := b.ns()
	if err != nil {
		return nil, err
	}
	if _, ok := n.schemas[name]; !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	rows := n.rows[name]
	if rows == nil {
		rows = make(map[string]*record.Record)
		n.rows[name] = rows
	}
	return rows, nil
}

func (b *binding) now() time.Time {
	b.c.store.mu.Lock()
	defer b.c.store.mu.Unlock()
	return b.c.store.now()
}

func matches(r *record.Record, f metadata.Filter) bool {
	if !f.IncludeTrashed && r.Trashed() {
		return false
	}
	for k, want := range f.Where {
		got, ok := r.Get(k)
		if !ok || content.Canonical(got) != content.Canonical(want) {
			return false
		}
	}
	return true
}

func (b *binding) SelectAny(ctx context.Context, name string, f metadata.Filter) ([]*record.Record, error) {
	rows, err := b.table(name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*record.Record
	for _, id := range ids {
		r := rows[id]
		if !matches(r, f) {
			continue
		}
		out = append(out, r.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
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
	f.Limit = 0
	list, err := b.SelectAny(ctx, name, f)
	return int64(len(list)), err
}

func (b *binding) CreateOne(ctx context.Context, name string, r *record.Record) (*record.Record, error) {
	rows, err := b.table(name)
	if err != nil {
		return nil, err
	}
	if err := b.checkRow(name, r); err != nil {
		return nil, err
	}
	if _, exists := rows[r.ID]; exists {
		return nil, fmt.Errorf("duplicate key %q in %s", r.ID, name)
	}
	now := b.now()
	stored := r.Clone()
	stored.CreatedAt = &now
	stored.UpdatedAt = &now
	rows[r.ID] = stored
	return stored.Clone(), nil
}

func (b *binding) UpdateOne(ctx context.Context, name string, r *record.Record) (*record.Record, error) {
	rows, err := b.table(name)
	if err != nil {
		return nil, err
	}
	if err := b.checkRow(name, r); err != nil {
		return nil, err
	}
	old, ok := rows[r.ID]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	now := b.now()
	stored := r.Clone()
	stored.CreatedAt = old.CreatedAt
	stored.UpdatedAt = &now
	rows[r.ID] = stored
	return stored.Clone(), nil
}

func (b *binding) DeleteOne(ctx context.Context, name string, id string) (*record.Record, error) {
	rows, err := b.table(name)
	if err != nil {
		return nil, err
	}
	r, ok := rows[id]
	if !ok || r.Trashed() {
		return nil, metadata.ErrNotFound
	}
	now := b.now()
	r.TrashedAt = &now
	r.UpdatedAt = &now
	return r.Clone(), nil
}

func (b *binding) LoadSchemas(ctx context.Context) ([]*schema.Schema, error) {
	n, err := b.ns()
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Schema, 0, len(n.schemas))
	for _, s := range n.schemas {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *binding) UpdateColumn(ctx context.Context, col *schema.Column) (*schema.Column, error) {
	n, err := b.ns()
	if err != nil {
		return nil, err
	}
	s, ok := n.schemas[col.Schema]
	if !ok {
		return nil, fmt.Errorf("schema %q does not exist", col.Schema)
	}
	for i, c := range s.Columns {
		if c.Name == col.Name {
			now := b.now()
			updated := col.Clone()
			updated.CreatedAt = c.CreatedAt
			updated.UpdatedAt = &now
			s.Columns[i] = updated
			return updated.Clone(), nil
		}
	}
	return nil, metadata.ErrNotFound
}
