package fileops

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/content"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

// Store writes value to a field, a record or a column property.
func (s *Service) Store(ctx context.Context, req Request, path string, value any, opts StoreOptions) (res *StoreResult, err error) {
	defer s.observe(ctx, "store", path, time.Now(), &err)
	p, err := vpath.Parse(path, vpath.Options{})
	if err != nil {
		return nil, err
	}
	res, err = txn.Write(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*StoreResult, error) {
		return s.unit(sess, req).store(ctx, p, value, opts)
	})
	if err != nil {
		return nil, withPath(err, p.Normalized)
	}
	s.publish(req, p.Normalized, res.Operation, res.Result)
	return res, nil
}

func (u *unit) store(ctx context.Context, p *vpath.Path, value any, opts StoreOptions) (*StoreResult, error) {
	if p.Namespace == vpath.Describe && !u.isRoot() {
		return nil, fserr.New(fserr.PermissionDenied, p.Normalized, "only root may change schema definitions")
	}
	switch t := p.Target.(type) {
	case vpath.FieldTarget:
		return u.storeField(ctx, p, t, value, opts)
	case vpath.RecordTarget:
		return u.storeRecord(ctx, p, t, value, opts)
	case vpath.PropertyTarget:
		return u.storeProperty(ctx, p, t, value)
	case vpath.RootTarget, vpath.NamespaceTarget, vpath.SchemaTarget, vpath.ColumnTarget:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "cannot store to a %s path", t.Kind())
	default:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}

func (u *unit) storeField(ctx context.Context, p *vpath.Path, t vpath.FieldTarget, value any, opts StoreOptions) (*StoreResult, error) {
	if record.IsSystemField(t.Field) {
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "system field %q cannot be written", t.Field)
	}
	sc, err := u.schema(ctx, t.Schema)
	if err != nil {
		return nil, err
	}
	r, a, err := u.writable(ctx, t.Schema, t.ID)
	if err != nil {
		return nil, err
	}

	old, had := r.Fields[t.Field]
	op, next := OpFieldUpdate, value
	if opts.AppendMode {
		prev, okOld := old.(string)
		tail, okNew := value.(string)
		if okOld && okNew {
			op, next = OpFieldAppend, prev+tail
		}
	}

	col, ok := sc.Column(t.Field)
	if !ok {
		return nil, fserr.New(fserr.FieldNotFound, p.Normalized, "column %q not declared in %s", t.Field, t.Schema)
	}
	if opts.ValidateSchema {
		if err := checkColumn(col, next, old, had); err != nil {
			return nil, withPath(err, p.Normalized)
		}
	}

	r.Fields[t.Field] = next
	stored, err := u.db.UpdateOne(ctx, t.Schema, r)
	if err != nil {
		return nil, fserr.Wrap(err, "update %s/%s", t.Schema, t.ID)
	}
	return &StoreResult{
		Success:   true,
		Operation: op,
		Result:    next,
		Metadata:  fileMeta(p.Normalized, t.Field, next, a.Permissions, recordModified(stored, u.now()), stored.CreatedAt),
	}, nil
}

func (u *unit) storeRecord(ctx context.Context, p *vpath.Path, t vpath.RecordTarget, value any, opts StoreOptions) (*StoreResult, error) {
	obj, err := toObject(value)
	if err != nil {
		return nil, withPath(err, p.Normalized)
	}
	fields, access, err := record.SplitUserFields(obj)
	if err != nil {
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "%v", err)
	}
	sc, err := u.schema(ctx, t.Schema)
	if err != nil {
		return nil, err
	}
	existing, err := u.lookup(ctx, t.Schema, t.ID)
	if err != nil {
		return nil, err
	}

	if err := checkDeclared(sc, fields); err != nil {
		return nil, withPath(err, p.Normalized)
	}
	if existing == nil {
		return u.createRecord(ctx, p, sc, t.ID, fields, access, opts)
	}
	if !opts.Overwrite {
		return nil, fserr.New(fserr.RecordExists, p.Normalized, "record %q already exists", t.ID)
	}
	a := u.access(existing)
	if !a.CanWrite() {
		return nil, fserr.New(fserr.PermissionDenied, p.Normalized, "record %q is read-only for this caller", t.ID)
	}
	if len(access) > 0 && a.Level != acl.LevelFull {
		return nil, fserr.New(fserr.PermissionDenied, p.Normalized, "changing access lists requires full access")
	}

	restored := existing.Trashed()
	op := OpUpdate
	next := existing.Clone()
	next.TrashedAt = nil
	if opts.AppendMode && !restored {
		op = OpMerge
		maps.Copy(next.Fields, fields)
	} else {
		next.Fields = fields
	}
	next.ApplyAccess(access)

	if opts.ValidateSchema {
		if err := checkRecord(sc, next.Fields, existing); err != nil {
			return nil, withPath(err, p.Normalized)
		}
	}
	stored, err := u.db.UpdateOne(ctx, t.Schema, next)
	if err != nil {
		return nil, fserr.Wrap(err, "update %s/%s", t.Schema, t.ID)
	}
	v := stored.Map(false)
	return &StoreResult{
		Success:   true,
		Operation: op,
		Restored:  restored,
		Result:    v,
		Metadata:  u.recordMeta(p, stored, v),
	}, nil
}

// createRecord inserts a new row. A non-root creator is granted full access
// unless the content sets access_full itself.
func (u *unit) createRecord(ctx context.Context, p *vpath.Path, sc *schema.Schema, id string, fields map[string]any, access map[string][]string, opts StoreOptions) (*StoreResult, error) {
	r := record.New(id)
	r.Fields = fields
	for _, col := range sc.Columns {
		if _, ok := r.Fields[col.Name]; !ok && col.DefaultValue != nil {
			r.Fields[col.Name] = col.DefaultValue
		}
	}
	r.ApplyAccess(access)
	if _, ok := access[record.FieldAccessFull]; !ok && !u.isRoot() && u.req.Identity != nil {
		if uid := u.req.Identity.User().ID; uid != "" {
			r.AccessFull = []string{uid}
		}
	}
	if opts.ValidateSchema {
		if err := checkRecord(sc, r.Fields, nil); err != nil {
			return nil, withPath(err, p.Normalized)
		}
	}
	stored, err := u.db.CreateOne(ctx, sc.Name, r)
	if err != nil {
		return nil, fserr.Wrap(err, "insert %s/%s", sc.Name, id)
	}
	v := stored.Map(false)
	return &StoreResult{
		Success:   true,
		Operation: OpCreate,
		Created:   true,
		Result:    v,
		Metadata:  u.recordMeta(p, stored, v),
	}, nil
}

// recordMeta describes a stored record the way stat does: a directory when
// addressed by its directory path, a file when addressed as id.json.
func (u *unit) recordMeta(p *vpath.Path, r *record.Record, v any) FileMetadata {
	meta := fileMeta(p.Normalized, "", v, u.access(r).Permissions, recordModified(r, u.now()), r.CreatedAt)
	if p.IsDirectory {
		meta.Type = MetaDirectory
	}
	return meta
}

func (u *unit) storeProperty(ctx context.Context, p *vpath.Path, t vpath.PropertyTarget, value any) (*StoreResult, error) {
	sc, col, err := u.column(ctx, t.Schema, t.Column)
	if err != nil {
		return nil, err
	}
	if !schema.IsProperty(t.Property) {
		return nil, fserr.New(fserr.FieldNotFound, p.Normalized, "unknown column property %q", t.Property)
	}
	next := col.Clone()
	if err := next.SetProperty(t.Property, value); err != nil {
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "%v", err)
	}
	stored, err := u.desc.UpdateColumn(ctx, next)
	if err != nil {
		return nil, fserr.Wrap(err, "update column %s.%s", t.Schema, t.Column)
	}
	v, _ := stored.Property(t.Property)
	mod, _ := columnModified(sc, stored, u.now())
	return &StoreResult{
		Success:   true,
		Operation: OpColumnUpdate,
		Result:    v,
		Metadata:  fileMeta(p.Normalized, t.Property, v, u.propertyPerms(), mod, stored.CreatedAt),
	}, nil
}

// toObject accepts a JSON object as a map or as JSON text.
func toObject(value any) (map[string]any, error) {
	var text []byte
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		text = []byte(v)
	case []byte:
		text = v
	case json.RawMessage:
		text = v
	default:
		return nil, fserr.New(fserr.RequestInvalidFormat, "", "record content must be a JSON object, got %T", value)
	}
	var obj map[string]any
	if err := json.Unmarshal(text, &obj); err != nil || obj == nil {
		return nil, fserr.New(fserr.RequestInvalidFormat, "", "record content must be a JSON object")
	}
	return obj, nil
}

// checkDeclared rejects user fields the schema does not declare. It applies
// even without schema validation since a relational backend has nowhere to
// keep them.
func checkDeclared(sc *schema.Schema, fields map[string]any) error {
	for k := range fields {
		if _, ok := sc.Column(k); !ok {
			return fserr.New(fserr.FieldNotFound, "", "column %q not declared in %s", k, sc.Name)
		}
	}
	return nil
}

// checkRecord validates the final user fields of a record against its
// schema. existing is nil on create.
func checkRecord(sc *schema.Schema, fields map[string]any, existing *record.Record) error {
	for k, v := range fields {
		col, ok := sc.Column(k)
		if !ok {
			return fserr.New(fserr.FieldNotFound, "", "column %q not declared in %s", k, sc.Name)
		}
		var old any
		had := false
		if existing != nil {
			old, had = existing.Fields[k]
		}
		if err := checkColumn(col, v, old, had); err != nil {
			return err
		}
	}
	for _, col := range sc.Columns {
		if col.Required && fields[col.Name] == nil {
			return fserr.New(fserr.RequestInvalidFormat, "", "required column %q is missing", col.Name)
		}
	}
	return nil
}

func checkColumn(col *schema.Column, v, old any, had bool) error {
	if err := col.CheckValue(v); err != nil {
		return fserr.New(fserr.RequestInvalidFormat, "", "%v", err)
	}
	if col.Immutable && had && old != nil && content.Canonical(old) != content.Canonical(v) {
		return fserr.New(fserr.RequestInvalidFormat, "", "column %q is immutable", col.Name)
	}
	return nil
}
