// Package fileops implements the filesystem verbs over tenant data.
//
// Every verb classifies its path, then runs inside one unit of work of the
// transaction runtime: mutating verbs commit on success and roll back on
// any error, read verbs never commit.
package fileops

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/content"
	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metrics"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

// DefaultCrossSchemaLimit caps records per schema in wildcard listings.
const DefaultCrossSchemaLimit = 100

// Publisher receives committed changes.
type Publisher interface {
	Publish(events.Event)
}

// Service executes filesystem verbs.
type Service struct {
	rt               *txn.Runtime
	binder           metadata.Binder
	events           Publisher
	crossSchemaLimit int
	now              func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends change events after successful commits.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithCrossSchemaLimit sets the default per-schema limit of wildcard listings.
func WithCrossSchemaLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.crossSchemaLimit = n
		}
	}
}

// WithClock replaces the time source used for "current time" results.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service.
func New(rt *txn.Runtime, binder metadata.Binder, opts ...Option) *Service {
	s := &Service{
		rt:               rt,
		binder:           binder,
		crossSchemaLimit: DefaultCrossSchemaLimit,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe records metrics and logs the outcome of a verb.
func (s *Service) observe(ctx context.Context, verb, path string, start time.Time, err *error) {
	code := "OK"
	if *err != nil {
		code = string(fserr.CodeOf(*err))
	}
	d := time.Since(start)
	metrics.RecordFileOperation(verb, code, d)
	log := logging.WithContext(ctx)
	if code == string(fserr.Internal) {
		log.Error("file operation failed", zap.String("verb", verb), zap.String("path", path), zap.Error(*err))
		return
	}
	log.Debug("file operation", zap.String("verb", verb), zap.String("path", path),
		zap.String("code", code), zap.Duration("duration", d))
}

// unit is the state of one verb inside its session.
type unit struct {
	svc  *Service
	req  Request
	sess *txn.Session
	db   metadata.Database
	desc metadata.Describe
}

func (s *Service) unit(sess *txn.Session, req Request) *unit {
	db, desc := s.binder.Bind(sess)
	return &unit{svc: s, req: req, sess: sess, db: db, desc: desc}
}

func (u *unit) now() time.Time {
	return u.svc.now()
}

func (u *unit) isRoot() bool {
	return acl.IsRoot(u.req.Identity)
}

func (u *unit) dirPerms() string {
	return acl.DirectoryPermissions(u.req.Identity)
}

func (u *unit) dirLevel() acl.Level {
	if u.isRoot() {
		return acl.LevelFull
	}
	return acl.LevelRead
}

func (u *unit) schemas(ctx context.Context) (*schema.Cache, error) {
	c, err := u.sess.Schemas(ctx)
	if err != nil {
		return nil, fserr.Wrap(err, "load schemas")
	}
	return c, nil
}

// schema returns a schema definition or SCHEMA_NOT_FOUND.
func (u *unit) schema(ctx context.Context, name string) (*schema.Schema, error) {
	c, err := u.schemas(ctx)
	if err != nil {
		return nil, err
	}
	sc, ok := c.Get(name)
	if !ok {
		return nil, fserr.New(fserr.SchemaNotFound, "", "schema %q not found", name)
	}
	return sc, nil
}

// column returns a column definition or FIELD_NOT_FOUND.
func (u *unit) column(ctx context.Context, schemaName, name string) (*schema.Schema, *schema.Column, error) {
	sc, err := u.schema(ctx, schemaName)
	if err != nil {
		return nil, nil, err
	}
	col, ok := sc.Column(name)
	if !ok {
		return nil, nil, fserr.New(fserr.FieldNotFound, "", "column %q not found in %s", name, schemaName)
	}
	return sc, col, nil
}

func (u *unit) access(r *record.Record) acl.Access {
	a := acl.Derive(u.req.Identity, r.ACL())
	metrics.RecordPermissionCheck(string(a.Level))
	return a
}

// lookup returns a row by id, trashed or not, or nil.
func (u *unit) lookup(ctx context.Context, schemaName, id string) (*record.Record, error) {
	r, err := u.db.SelectOne(ctx, schemaName, metadata.ByID(id))
	if err != nil {
		return nil, fserr.Wrap(err, "select %s/%s", schemaName, id)
	}
	return r, nil
}

// record returns a live, readable record. Soft-deleted rows are not found.
func (u *unit) record(ctx context.Context, schemaName, id string) (*record.Record, acl.Access, error) {
	if _, err := u.schema(ctx, schemaName); err != nil {
		return nil, acl.Access{}, err
	}
	r, err := u.lookup(ctx, schemaName, id)
	if err != nil {
		return nil, acl.Access{}, err
	}
	if r == nil || r.Trashed() {
		return nil, acl.Access{}, fserr.New(fserr.RecordNotFound, "", "record %q not found in %s", id, schemaName)
	}
	a := u.access(r)
	if !a.CanRead() {
		return nil, a, fserr.New(fserr.PermissionDenied, "", "access to record %q denied", id)
	}
	return r, a, nil
}

// writable returns a live record the caller may modify.
func (u *unit) writable(ctx context.Context, schemaName, id string) (*record.Record, acl.Access, error) {
	r, a, err := u.record(ctx, schemaName, id)
	if err != nil {
		return nil, a, err
	}
	if !a.CanWrite() {
		return nil, a, fserr.New(fserr.PermissionDenied, "", "record %q is read-only for this caller", id)
	}
	return r, a, nil
}

// field returns a field value. Hidden system fields need showHidden.
func field(r *record.Record, name string, showHidden bool) (any, error) {
	if record.IsHiddenField(name) && !showHidden {
		return nil, fserr.New(fserr.FieldNotFound, "", "field %q not found", name)
	}
	v, ok := r.Get(name)
	if !ok {
		return nil, fserr.New(fserr.FieldNotFound, "", "field %q not found", name)
	}
	return v, nil
}

func recordModified(r *record.Record, fallback time.Time) time.Time {
	if t, _, ok := r.Timestamp(); ok {
		return t
	}
	return fallback
}

func columnModified(sc *schema.Schema, col *schema.Column, fallback time.Time) (time.Time, string) {
	switch {
	case col != nil && col.UpdatedAt != nil:
		return *col.UpdatedAt, SourceUpdatedAt
	case col != nil && col.CreatedAt != nil:
		return *col.CreatedAt, SourceCreatedAt
	case sc.UpdatedAt != nil:
		return *sc.UpdatedAt, SourceUpdatedAt
	case sc.CreatedAt != nil:
		return *sc.CreatedAt, SourceCreatedAt
	}
	return fallback, SourceCurrentTime
}

// fileMeta describes a value addressed as a file.
func fileMeta(path, name string, v any, perms string, modified time.Time, created *time.Time) FileMetadata {
	return FileMetadata{
		Path:         path,
		Type:         MetaFile,
		Permissions:  perms,
		Size:         content.Size(v),
		ModifiedTime: modified,
		CreatedTime:  created,
		ContentType:  content.ContentType(name, v),
		ETag:         content.ETag(v),
	}
}

func dirMeta(path, perms string, modified time.Time) FileMetadata {
	return FileMetadata{
		Path:         path,
		Type:         MetaDirectory,
		Permissions:  perms,
		ModifiedTime: modified,
	}
}

// publish emits a change event after a successful commit.
func (s *Service) publish(req Request, path, op string, v any) {
	if s.events == nil {
		return
	}
	typ := events.EventUpdate
	switch op {
	case OpCreate:
		typ = events.EventCreate
	case OpSoftDelete:
		typ = events.EventDelete
	}
	e := events.Event{Type: typ, Tenant: req.Tenant, Path: path, Operation: op}
	if v != nil {
		e.ETag = content.ETag(v)
		e.Size = content.Size(v)
	}
	s.events.Publish(e)
}

// withPath fills in the path of a domain error raised below the verb.
func withPath(err error, path string) error {
	var fe *fserr.Error
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}
