package fileops

import (
	"context"
	"time"

	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

// Stat returns type-specific metadata for a path.
func (s *Service) Stat(ctx context.Context, req Request, path string) (res *StatResult, err error) {
	defer s.observe(ctx, "stat", path, time.Now(), &err)
	p, err := vpath.Parse(path, vpath.Options{})
	if err != nil {
		return nil, err
	}
	res, err = txn.Read(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*StatResult, error) {
		return s.unit(sess, req).stat(ctx, p)
	})
	return res, withPath(err, p.Normalized)
}

func (u *unit) stat(ctx context.Context, p *vpath.Path) (*StatResult, error) {
	switch t := p.Target.(type) {
	case vpath.RootTarget:
		n := int64(len(vpath.Namespaces))
		return &StatResult{
			FileMetadata:  dirMeta(p.Normalized, u.dirPerms(), u.now()),
			ChildrenCount: &n,
			AccessLevel:   u.dirLevel(),
		}, nil
	case vpath.NamespaceTarget:
		c, err := u.schemas(ctx)
		if err != nil {
			return nil, err
		}
		n := int64(c.Len())
		return &StatResult{
			FileMetadata:  dirMeta(p.Normalized, u.dirPerms(), u.now()),
			ChildrenCount: &n,
			AccessLevel:   u.dirLevel(),
		}, nil
	case vpath.SchemaTarget:
		return u.statSchema(ctx, p, t)
	case vpath.RecordTarget:
		r, a, err := u.record(ctx, t.Schema, t.ID)
		if err != nil {
			return nil, err
		}
		v := r.Map(false)
		meta := fileMeta(p.Normalized, "", v, a.Permissions, recordModified(r, u.now()), r.CreatedAt)
		if p.IsDirectory {
			meta.Type = MetaDirectory
		}
		deleted := r.Trashed()
		n := len(r.FieldNames(false))
		return &StatResult{
			FileMetadata: meta,
			FieldCount:   &n,
			SoftDeleted:  &deleted,
			AccessLevel:  a.Level,
		}, nil
	case vpath.FieldTarget:
		r, a, err := u.record(ctx, t.Schema, t.ID)
		if err != nil {
			return nil, err
		}
		_, meta, err := u.read(ctx, p, true)
		if err != nil {
			return nil, err
		}
		deleted := r.Trashed()
		return &StatResult{FileMetadata: meta, SoftDeleted: &deleted, AccessLevel: a.Level}, nil
	case vpath.ColumnTarget:
		sc, col, err := u.column(ctx, t.Schema, t.Column)
		if err != nil {
			return nil, err
		}
		def := col.Map()
		mod, _ := columnModified(sc, col, u.now())
		meta := fileMeta(p.Normalized, "", def, u.propertyPerms(), mod, col.CreatedAt)
		if p.IsDirectory {
			meta.Type = MetaDirectory
		}
		n := int64(len(schema.Properties))
		return &StatResult{
			FileMetadata:  meta,
			ChildrenCount: &n,
			AccessLevel:   u.dirLevel(),
			Definition:    def,
		}, nil
	case vpath.PropertyTarget:
		_, meta, err := u.read(ctx, p, false)
		if err != nil {
			return nil, err
		}
		return &StatResult{FileMetadata: meta, AccessLevel: u.dirLevel()}, nil
	default:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}

func (u *unit) statSchema(ctx context.Context, p *vpath.Path, t vpath.SchemaTarget) (*StatResult, error) {
	sc, err := u.schema(ctx, t.Schema)
	if err != nil {
		return nil, err
	}
	mod, _ := columnModified(sc, nil, u.now())
	res := &StatResult{
		FileMetadata: dirMeta(p.Normalized, u.dirPerms(), mod),
		AccessLevel:  u.dirLevel(),
		Definition:   sc,
	}
	res.CreatedTime = sc.CreatedAt
	cols := int64(len(sc.Columns))
	if t.Namespace == vpath.Describe {
		res.ChildrenCount = &cols
		return res, nil
	}
	count, err := u.db.Count(ctx, t.Schema, metadata.Filter{})
	if err != nil {
		return nil, fserr.Wrap(err, "count %s", t.Schema)
	}
	res.RecordCount = &count
	res.ChildrenCount = &count
	return res, nil
}

// Size returns the byte length of a file path's raw content. Directories
// are NOT_A_FILE. Hidden fields are never counted so the result does not
// depend on caller options.
func (s *Service) Size(ctx context.Context, req Request, path string) (res *SizeResult, err error) {
	defer s.observe(ctx, "size", path, time.Now(), &err)
	p, err := vpath.Parse(path, vpath.Options{RequireFile: true})
	if err != nil {
		return nil, err
	}
	res, err = txn.Read(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*SizeResult, error) {
		out, err := s.unit(sess, req).retrieve(ctx, p, RetrieveOptions{Format: FormatRaw})
		if err != nil {
			return nil, err
		}
		raw, _ := out.Content.(string)
		return &SizeResult{Path: p.Normalized, Size: int64(len(raw))}, nil
	})
	return res, withPath(err, p.Normalized)
}

// ModifyTime returns the best modification time of a path and where it
// came from.
func (s *Service) ModifyTime(ctx context.Context, req Request, path string) (res *ModifyTimeResult, err error) {
	defer s.observe(ctx, "modify_time", path, time.Now(), &err)
	p, err := vpath.Parse(path, vpath.Options{})
	if err != nil {
		return nil, err
	}
	res, err = txn.Read(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*ModifyTimeResult, error) {
		t, src, err := s.unit(sess, req).modifyTime(ctx, p)
		if err != nil {
			return nil, err
		}
		return &ModifyTimeResult{Path: p.Normalized, ModifiedTime: t, Source: src}, nil
	})
	return res, withPath(err, p.Normalized)
}

func (u *unit) modifyTime(ctx context.Context, p *vpath.Path) (time.Time, string, error) {
	now := u.now()
	switch t := p.Target.(type) {
	case vpath.RootTarget, vpath.NamespaceTarget:
		return now, SourceCurrentTime, nil
	case vpath.SchemaTarget:
		sc, err := u.schema(ctx, t.Schema)
		if err != nil {
			return time.Time{}, "", err
		}
		if t.Namespace == vpath.Describe {
			mt, src := columnModified(sc, nil, now)
			return mt, src, nil
		}
		rows, err := u.db.SelectAny(ctx, t.Schema, metadata.Filter{})
		if err != nil {
			return time.Time{}, "", fserr.Wrap(err, "select %s", t.Schema)
		}
		var latest *time.Time
		for _, r := range rows {
			if r.UpdatedAt != nil && (latest == nil || r.UpdatedAt.After(*latest)) {
				latest = r.UpdatedAt
			}
		}
		if latest == nil {
			return now, SourceCurrentTime, nil
		}
		return *latest, SourceUpdatedAt, nil
	case vpath.RecordTarget:
		return u.recordTime(ctx, t.Schema, t.ID, "", now)
	case vpath.FieldTarget:
		return u.recordTime(ctx, t.Schema, t.ID, t.Field, now)
	case vpath.ColumnTarget:
		sc, col, err := u.column(ctx, t.Schema, t.Column)
		if err != nil {
			return time.Time{}, "", err
		}
		mt, src := columnModified(sc, col, now)
		return mt, src, nil
	case vpath.PropertyTarget:
		sc, col, err := u.column(ctx, t.Schema, t.Column)
		if err != nil {
			return time.Time{}, "", err
		}
		mt, src := columnModified(sc, col, now)
		return mt, src, nil
	default:
		return time.Time{}, "", fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}

func (u *unit) recordTime(ctx context.Context, schemaName, id, fieldName string, now time.Time) (time.Time, string, error) {
	r, _, err := u.record(ctx, schemaName, id)
	if err != nil {
		return time.Time{}, "", err
	}
	if fieldName != "" {
		if _, err := field(r, fieldName, true); err != nil {
			return time.Time{}, "", err
		}
	}
	if t, src, ok := r.Timestamp(); ok {
		return t, src, nil
	}
	return now, SourceCurrentTime, nil
}
