package fileops

import (
	"context"
	"errors"
	"time"

	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/txn"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

// Delete clears a field or soft-deletes a record.
func (s *Service) Delete(ctx context.Context, req Request, path string) (res *DeleteResult, err error) {
	defer s.observe(ctx, "delete", path, time.Now(), &err)
	p, err := vpath.Parse(path, vpath.Options{})
	if err != nil {
		return nil, err
	}
	res, err = txn.Write(ctx, s.rt, req.Namespace, func(ctx context.Context, sess *txn.Session) (*DeleteResult, error) {
		return s.unit(sess, req).delete(ctx, p)
	})
	if err != nil {
		return nil, withPath(err, p.Normalized)
	}
	s.publish(req, p.Normalized, res.Operation, nil)
	return res, nil
}

func (u *unit) delete(ctx context.Context, p *vpath.Path) (*DeleteResult, error) {
	switch t := p.Target.(type) {
	case vpath.FieldTarget:
		return u.clearField(ctx, p, t)
	case vpath.RecordTarget:
		return u.softDelete(ctx, p, t)
	case vpath.RootTarget, vpath.NamespaceTarget, vpath.SchemaTarget, vpath.ColumnTarget, vpath.PropertyTarget:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "cannot delete a %s path", t.Kind())
	default:
		return nil, fserr.New(fserr.UnsupportedPathType, p.Normalized, "unsupported path type")
	}
}

func (u *unit) clearField(ctx context.Context, p *vpath.Path, t vpath.FieldTarget) (*DeleteResult, error) {
	if record.IsSystemField(t.Field) {
		return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "system field %q cannot be cleared", t.Field)
	}
	sc, err := u.schema(ctx, t.Schema)
	if err != nil {
		return nil, err
	}
	r, a, err := u.writable(ctx, t.Schema, t.ID)
	if err != nil {
		return nil, err
	}
	if _, ok := r.Fields[t.Field]; !ok {
		if _, declared := sc.Column(t.Field); !declared {
			return nil, fserr.New(fserr.FieldNotFound, p.Normalized, "field %q not found", t.Field)
		}
	}
	r.Fields[t.Field] = nil
	stored, err := u.db.UpdateOne(ctx, t.Schema, r)
	if err != nil {
		return nil, fserr.Wrap(err, "update %s/%s", t.Schema, t.ID)
	}
	return &DeleteResult{
		Success:    true,
		Operation:  OpFieldClear,
		CanRestore: false,
		Result:     map[string]any{"field": t.Field, "value": nil},
		Metadata:   fileMeta(p.Normalized, t.Field, nil, a.Permissions, recordModified(stored, u.now()), stored.CreatedAt),
	}, nil
}

func (u *unit) softDelete(ctx context.Context, p *vpath.Path, t vpath.RecordTarget) (*DeleteResult, error) {
	_, a, err := u.writable(ctx, t.Schema, t.ID)
	if err != nil {
		return nil, err
	}
	stored, err := u.db.DeleteOne(ctx, t.Schema, t.ID)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fserr.New(fserr.RecordNotFound, p.Normalized, "record %q not found", t.ID)
	}
	if err != nil {
		return nil, fserr.Wrap(err, "delete %s/%s", t.Schema, t.ID)
	}
	meta := dirMeta(p.Normalized, a.Permissions, recordModified(stored, u.now()))
	meta.CreatedTime = stored.CreatedAt
	return &DeleteResult{
		Success:    true,
		Operation:  OpSoftDelete,
		CanRestore: true,
		Result:     map[string]any{"id": stored.ID, "trashed_at": formatTime(stored.TrashedAt)},
		Metadata:   meta,
	}, nil
}
