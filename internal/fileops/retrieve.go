package fileops

import (
	"context"
	"time"

	"github.com/fruitsalade/tenantfs/internal/content"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

// Retrieve reads the content of a path.
func (s *Service) Retrieve(ctx context.Context, req Request, path string, opts RetrieveOptions) (res *RetrieveResult, err error) {
	defer s.observe(ctx, "retrieve", path, time.Now(), &err)
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	p, err := vpath.Parse(path, vpath.Options{})
	if err != nil {
		return nil, err
	}
	if opts.Format != FormatRaw && (opts.StartOffset != nil || opts.MaxBytes != nil) {
		return nil, fserr.New(fserr.PartialReadUnsupported, p.Normalized, "start_offset and max_bytes require format=raw")
	}
	res, err = txn.Read(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*RetrieveResult, error) {
		return s.unit(sess, req).retrieve(ctx, p, opts)
	})
	return res, withPath(err, p.Normalized)
}

func (u *unit) retrieve(ctx context.Context, p *vpath.Path, opts RetrieveOptions) (*RetrieveResult, error) {
	value, meta, err := u.read(ctx, p, opts.ShowHidden)
	if err != nil {
		return nil, err
	}
	if opts.Format != FormatRaw {
		return &RetrieveResult{Content: value, Metadata: meta}, nil
	}
	var start int64
	if opts.StartOffset != nil {
		start = *opts.StartOffset
	}
	part := content.Slice(content.Canonical(value), start, opts.MaxBytes)
	meta.CanResume = part.CanResume
	return &RetrieveResult{Content: part.Content, Metadata: meta}, nil
}

// read resolves the value addressed by p and its metadata.
func (u *unit) read(ctx context.Context, p *vpath.Path, showHidden bool) (any, FileMetadata, error) {
	switch t := p.Target.(type) {
	case vpath.RootTarget, vpath.NamespaceTarget:
		return nil, FileMetadata{}, fserr.New(fserr.NotAFile, p.Normalized, "%s is a directory", t.Kind())
	case vpath.SchemaTarget:
		if t.Namespace == vpath.Data {
			return nil, FileMetadata{}, fserr.New(fserr.NotAFile, p.Normalized, "schema directories have no content")
		}
		sc, err := u.schema(ctx, t.Schema)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		mod, _ := columnModified(sc, nil, u.now())
		meta := fileMeta(p.Normalized, "", sc, u.propertyPerms(), mod, sc.CreatedAt)
		meta.Type = MetaDirectory
		return sc, meta, nil
	case vpath.RecordTarget:
		r, a, err := u.record(ctx, t.Schema, t.ID)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		v := r.Map(showHidden)
		meta := fileMeta(p.Normalized, "", v, a.Permissions, recordModified(r, u.now()), r.CreatedAt)
		if p.IsDirectory {
			meta.Type = MetaDirectory
		}
		return v, meta, nil
	case vpath.FieldTarget:
		r, a, err := u.record(ctx, t.Schema, t.ID)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		v, err := field(r, t.Field, showHidden)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		return v, fileMeta(p.Normalized, t.Field, v, a.Permissions, recordModified(r, u.now()), r.CreatedAt), nil
	case vpath.ColumnTarget:
		sc, col, err := u.column(ctx, t.Schema, t.Column)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		v := col.Map()
		mod, _ := columnModified(sc, col, u.now())
		meta := fileMeta(p.Normalized, "", v, u.propertyPerms(), mod, col.CreatedAt)
		if p.IsDirectory {
			meta.Type = MetaDirectory
		}
		return v, meta, nil
	case vpath.PropertyTarget:
		sc, col, err := u.column(ctx, t.Schema, t.Column)
		if err != nil {
			return nil, FileMetadata{}, err
		}
		v, ok := col.Property(t.Property)
		if !ok {
			return nil, FileMetadata{}, fserr.New(fserr.FieldNotFound, p.Normalized, "unknown column property %q", t.Property)
		}
		mod, _ := columnModified(sc, col, u.now())
		return v, fileMeta(p.Normalized, t.Property, v, u.propertyPerms(), mod, col.CreatedAt), nil
	default:
		return nil, FileMetadata{}, fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}
