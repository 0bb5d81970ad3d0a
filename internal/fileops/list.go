package fileops

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/content"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

var listParse = vpath.Options{AllowWildcards: true, AllowCrossSchema: true}

// List returns the entries of a directory path.
func (s *Service) List(ctx context.Context, req Request, path string, opts ListOptions) (res *ListResult, err error) {
	defer s.observe(ctx, "list", path, time.Now(), &err)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	p, err := vpath.Parse(path, listParse)
	if err != nil {
		return nil, err
	}
	res, err = txn.Read(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*ListResult, error) {
		u := s.unit(sess, req)
		top, err := u.list(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		var entries []FileEntry
		u.visit(ctx, top, opts, func(e FileEntry) bool {
			entries = append(entries, e)
			return true
		})
		if entries == nil {
			entries = []FileEntry{}
		}
		return &ListResult{Path: p.Normalized, Entries: entries, Total: len(entries)}, nil
	})
	return res, withPath(err, p.Normalized)
}

// ListStream runs a listing in read-only streaming mode. The top level is
// listed before ListStream returns so path errors surface immediately;
// recursive levels are read while the caller consumes the stream. The
// caller must Close the stream.
func (s *Service) ListStream(ctx context.Context, req Request, path string, opts ListOptions) (st *txn.Stream[FileEntry], err error) {
	defer s.observe(ctx, "list_stream", path, time.Now(), &err)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	p, err := vpath.Parse(path, listParse)
	if err != nil {
		return nil, err
	}
	st, err = txn.OpenStream(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (iter.Seq2[FileEntry, error], error) {
		u := s.unit(sess, req)
		top, err := u.list(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		return func(yield func(FileEntry, error) bool) {
			u.visit(ctx, top, opts, func(e FileEntry) bool {
				return yield(e, nil)
			})
			if err := ctx.Err(); err != nil {
				yield(FileEntry{}, err)
			}
		}, nil
	})
	return st, withPath(err, p.Normalized)
}

// visit delivers the listing in output order. Flat recursive listings are
// collected and sorted once at the end.
func (u *unit) visit(ctx context.Context, top []FileEntry, opts ListOptions, fn func(FileEntry) bool) {
	if !opts.Recursive {
		sortEntries(top, opts)
		for _, e := range top {
			if !fn(e) {
				return
			}
		}
		return
	}
	if !opts.Flat {
		u.walk(ctx, top, opts, 1, fn)
		return
	}
	var files []FileEntry
	u.walk(ctx, top, opts, 1, func(e FileEntry) bool {
		files = append(files, e)
		return true
	})
	sortEntries(files, opts)
	for _, e := range files {
		if !fn(e) {
			return
		}
	}
}

// walk traverses depth first. A failed sub-listing is skipped. It returns
// false when fn asks to stop.
func (u *unit) walk(ctx context.Context, entries []FileEntry, opts ListOptions, depth int, fn func(FileEntry) bool) bool {
	sortEntries(entries, opts)
	for _, e := range entries {
		if ctx.Err() != nil {
			return false
		}
		if (e.FileType == TypeFile || !opts.Flat) && !fn(e) {
			return false
		}
		if e.FileType != TypeDir || (opts.MaxDepth >= 0 && depth >= opts.MaxDepth) {
			continue
		}
		child, err := vpath.Parse(e.Path, listParse)
		if err != nil {
			continue
		}
		sub, err := u.list(ctx, child, opts)
		if err != nil {
			u.sess.Logger(ctx).Debug("skipping sub-listing", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		if !u.walk(ctx, sub, opts, depth+1, fn) {
			return false
		}
	}
	return true
}

// list returns the unsorted entries of one directory.
func (u *unit) list(ctx context.Context, p *vpath.Path, opts ListOptions) ([]FileEntry, error) {
	switch t := p.Target.(type) {
	case vpath.RootTarget:
		return u.listRoot(), nil
	case vpath.NamespaceTarget:
		return u.listNamespace(ctx, t.Namespace, opts)
	case vpath.SchemaTarget:
		if t.Schema == vpath.Wildcard {
			if t.Namespace == vpath.Describe {
				return nil, fserr.New(fserr.UnsupportedListPath, p.Normalized, "wildcards are not supported in /describe")
			}
			return u.listAllRecords(ctx, opts)
		}
		if t.Namespace == vpath.Describe {
			return u.listColumns(ctx, t.Schema, opts)
		}
		return u.listRecords(ctx, t.Schema, opts)
	case vpath.RecordTarget:
		if p.IsJSONFile {
			return nil, fserr.New(fserr.InvalidListPath, p.Normalized, "cannot list a file")
		}
		switch {
		case t.Schema == vpath.Wildcard && t.ID == vpath.Wildcard:
			return u.listAllRecords(ctx, opts)
		case t.Schema == vpath.Wildcard:
			return u.listAcross(ctx, t.ID, opts)
		case t.ID == vpath.Wildcard:
			return u.listRecords(ctx, t.Schema, opts)
		}
		return u.listFields(ctx, t.Schema, t.ID, opts)
	case vpath.ColumnTarget:
		if t.Schema == vpath.Wildcard || t.Column == vpath.Wildcard {
			return nil, fserr.New(fserr.UnsupportedListPath, p.Normalized, "wildcards are not supported in /describe")
		}
		if p.IsJSONFile {
			return nil, fserr.New(fserr.InvalidListPath, p.Normalized, "cannot list a file")
		}
		return u.listProperties(ctx, t.Schema, t.Column, opts)
	case vpath.FieldTarget, vpath.PropertyTarget:
		return nil, fserr.New(fserr.InvalidListPath, p.Normalized, "cannot list a file")
	default:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}

func newEntry(name, typ, path, perms string, modified time.Time, ctx APIContext) FileEntry {
	return FileEntry{
		Name:            name,
		FileType:        typ,
		FilePermissions: perms,
		FileModified:    modified.UTC().Format(mdtmLayout),
		Path:            path,
		APIContext:      ctx,
		modified:        modified,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (u *unit) listRoot() []FileEntry {
	now := u.now()
	entries := make([]FileEntry, 0, len(vpath.Namespaces))
	for _, ns := range vpath.Namespaces {
		name := string(ns)
		entries = append(entries, newEntry(name, TypeDir, "/"+name, u.dirPerms(), now,
			APIContext{AccessLevel: u.dirLevel()}))
	}
	return entries
}

func (u *unit) listNamespace(ctx context.Context, ns vpath.Namespace, opts ListOptions) ([]FileEntry, error) {
	c, err := u.schemas(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]FileEntry, 0, c.Len())
	for _, name := range c.Names() {
		sc, _ := c.Get(name)
		mod, _ := columnModified(sc, nil, u.now())
		e := newEntry(name, TypeDir, vpath.Child("/"+string(ns), name), u.dirPerms(), mod,
			APIContext{Schema: name, AccessLevel: u.dirLevel()})
		if opts.LongFormat {
			n := len(sc.Columns)
			e.FieldCount = &n
			e.CreatedTime = formatTime(sc.CreatedAt)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// checkWhere rejects filters on undeclared columns.
func checkWhere(sc *schema.Schema, where map[string]any) error {
	for k := range where {
		if record.IsSystemField(k) {
			continue
		}
		if _, ok := sc.Column(k); !ok {
			return fserr.New(fserr.FieldNotFound, "", "cannot filter on unknown column %q of %s", k, sc.Name)
		}
	}
	return nil
}

func (u *unit) recordEntry(schemaName, name string, r *record.Record, a acl.Access, opts ListOptions) FileEntry {
	visible := r.Map(false)
	e := newEntry(name, TypeDir, "/data/"+schemaName+"/"+r.ID, a.Permissions, recordModified(r, u.now()),
		APIContext{Schema: schemaName, RecordID: r.ID, AccessLevel: a.Level})
	e.FileSize = content.Size(visible)
	if opts.LongFormat {
		deleted := r.Trashed()
		n := len(r.FieldNames(opts.ShowHidden))
		e.CreatedTime = formatTime(r.CreatedAt)
		e.ContentType = content.TypeJSON
		e.ETag = content.ETag(visible)
		e.SoftDeleted = &deleted
		e.FieldCount = &n
	}
	return e
}

func (u *unit) listRecords(ctx context.Context, schemaName string, opts ListOptions) ([]FileEntry, error) {
	sc, err := u.schema(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if err := checkWhere(sc, opts.Where); err != nil {
		return nil, err
	}
	rows, err := u.db.SelectAny(ctx, schemaName, metadata.Filter{Where: opts.Where})
	if err != nil {
		return nil, fserr.Wrap(err, "select %s", schemaName)
	}
	entries := make([]FileEntry, 0, len(rows))
	for _, r := range rows {
		a := u.access(r)
		if !a.CanRead() {
			continue
		}
		entries = append(entries, u.recordEntry(schemaName, r.ID, r, a, opts))
	}
	return entries, nil
}

// listAllRecords lists records of every schema as "<schema>/<id>".
func (u *unit) listAllRecords(ctx context.Context, opts ListOptions) ([]FileEntry, error) {
	c, err := u.schemas(ctx)
	if err != nil {
		return nil, err
	}
	limit := opts.CrossSchemaLimit
	if limit <= 0 {
		limit = u.svc.crossSchemaLimit
	}
	var entries []FileEntry
	for _, name := range c.Names() {
		sc, _ := c.Get(name)
		if checkWhere(sc, opts.Where) != nil {
			continue
		}
		rows, err := u.db.SelectAny(ctx, name, metadata.Filter{Where: opts.Where, Limit: limit})
		if err != nil {
			return nil, fserr.Wrap(err, "select %s", name)
		}
		for _, r := range rows {
			a := u.access(r)
			if !a.CanRead() {
				continue
			}
			entries = append(entries, u.recordEntry(name, name+"/"+r.ID, r, a, opts))
		}
	}
	return entries, nil
}

// listAcross finds one id in every schema.
func (u *unit) listAcross(ctx context.Context, id string, opts ListOptions) ([]FileEntry, error) {
	c, err := u.schemas(ctx)
	if err != nil {
		return nil, err
	}
	var entries []FileEntry
	for _, name := range c.Names() {
		r, err := u.lookup(ctx, name, id)
		if err != nil {
			return nil, err
		}
		if r == nil || r.Trashed() {
			continue
		}
		a := u.access(r)
		if !a.CanRead() {
			continue
		}
		entries = append(entries, u.recordEntry(name, name+"/"+r.ID, r, a, opts))
	}
	return entries, nil
}

func (u *unit) listFields(ctx context.Context, schemaName, id string, opts ListOptions) ([]FileEntry, error) {
	r, a, err := u.record(ctx, schemaName, id)
	if err != nil {
		return nil, err
	}
	mod := recordModified(r, u.now())
	dir := "/data/" + schemaName + "/" + id
	names := r.FieldNames(opts.ShowHidden)
	entries := make([]FileEntry, 0, len(names))
	for _, name := range names {
		v, _ := r.Get(name)
		e := newEntry(name, TypeFile, vpath.Child(dir, name), a.Permissions, mod,
			APIContext{Schema: schemaName, RecordID: id, FieldName: name, AccessLevel: a.Level})
		e.FileSize = content.Size(v)
		if opts.LongFormat {
			e.CreatedTime = formatTime(r.CreatedAt)
			e.ContentType = content.ContentType(name, v)
			e.ETag = content.ETag(v)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (u *unit) listColumns(ctx context.Context, schemaName string, opts ListOptions) ([]FileEntry, error) {
	sc, err := u.schema(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	entries := make([]FileEntry, 0, len(sc.Columns))
	for _, col := range sc.Columns {
		def := col.Map()
		mod, _ := columnModified(sc, col, u.now())
		e := newEntry(col.Name, TypeDir, "/describe/"+schemaName+"/"+col.Name, u.dirPerms(), mod,
			APIContext{Schema: schemaName, RecordID: col.Name, AccessLevel: u.dirLevel()})
		e.FileSize = content.Size(def)
		if opts.LongFormat {
			n := len(schema.Properties)
			e.CreatedTime = formatTime(col.CreatedAt)
			e.ContentType = content.TypeJSON
			e.ETag = content.ETag(def)
			e.FieldCount = &n
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// propertyPerms is rw- for root, which alone may change definitions.
func (u *unit) propertyPerms() string {
	if u.isRoot() {
		return acl.PermEdit
	}
	return acl.PermRead
}

func (u *unit) listProperties(ctx context.Context, schemaName, column string, opts ListOptions) ([]FileEntry, error) {
	sc, col, err := u.column(ctx, schemaName, column)
	if err != nil {
		return nil, err
	}
	mod, _ := columnModified(sc, col, u.now())
	dir := "/describe/" + schemaName + "/" + column
	entries := make([]FileEntry, 0, len(schema.Properties))
	for _, prop := range schema.Properties {
		v, _ := col.Property(prop)
		e := newEntry(prop, TypeFile, vpath.Child(dir, prop), u.propertyPerms(), mod,
			APIContext{Schema: schemaName, RecordID: column, FieldName: prop, AccessLevel: u.dirLevel()})
		e.FileSize = content.Size(v)
		if opts.LongFormat {
			e.CreatedTime = formatTime(col.CreatedAt)
			e.ContentType = content.ContentType(prop, v)
			e.ETag = content.ETag(v)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// sortEntries orders entries by the requested key; ties fall back to name
// ascending so repeated listings are stable.
func sortEntries(entries []FileEntry, opts ListOptions) {
	desc := opts.SortOrder == SortDesc
	slices.SortStableFunc(entries, func(a, b FileEntry) int {
		var c int
		switch opts.SortBy {
		case SortSize:
			c = cmp.Compare(a.FileSize, b.FileSize)
		case SortTime:
			c = a.modified.Compare(b.modified)
		case SortType:
			c = strings.Compare(a.FileType, b.FileType)
		default:
			c = strings.Compare(a.Name, b.Name)
		}
		if c == 0 {
			return strings.Compare(a.Name, b.Name)
		}
		if desc {
			return -c
		}
		return c
	})
}
