package webdav

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"time"

	"golang.org/x/net/webdav"

	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/vpath"
)

// Verbs is the part of the verb service the WebDAV tree needs.
type Verbs interface {
	List(ctx context.Context, req fileops.Request, path string, opts fileops.ListOptions) (*fileops.ListResult, error)
	Retrieve(ctx context.Context, req fileops.Request, path string, opts fileops.RetrieveOptions) (*fileops.RetrieveResult, error)
	Store(ctx context.Context, req fileops.Request, path string, value any, opts fileops.StoreOptions) (*fileops.StoreResult, error)
	Delete(ctx context.Context, req fileops.Request, path string) (*fileops.DeleteResult, error)
	Stat(ctx context.Context, req fileops.Request, path string) (*fileops.StatResult, error)
}

// FileSystem maps webdav.FileSystem onto the filesystem verbs. Records and
// schemas are collections, fields and record .json forms are files.
type FileSystem struct {
	verbs Verbs
}

var _ webdav.FileSystem = (*FileSystem)(nil)

// Mkdir creates an empty record. Nothing else can be created as a collection.
func (f *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	req, err := request(ctx, "mkdir", name)
	if err != nil {
		return err
	}
	p, err := vpath.Parse(name, vpath.Options{})
	if err != nil {
		return pathError("mkdir", name, err)
	}
	if _, ok := p.Target.(vpath.RecordTarget); !ok {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrPermission}
	}
	opts := fileops.DefaultStoreOptions()
	opts.Overwrite = false
	if _, err := f.verbs.Store(ctx, req, name, map[string]any{}, opts); err != nil {
		return pathError("mkdir", name, err)
	}
	return nil
}

func (f *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	req, err := request(ctx, "open", name)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return &writeFile{ctx: ctx, fs: f, req: req, name: name, appendMode: flag&os.O_APPEND != 0}, nil
	}

	st, err := f.verbs.Stat(ctx, req, name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	info := metaInfo(name, st.FileMetadata)
	if info.dir {
		return &dirFile{ctx: ctx, fs: f, req: req, name: name, info: info}, nil
	}

	opts := fileops.DefaultRetrieveOptions()
	opts.Format = fileops.FormatRaw
	res, err := f.verbs.Retrieve(ctx, req, name, opts)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	data, err := rawBytes(res.Content)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	info.size = int64(len(data))
	return &readFile{Reader: bytes.NewReader(data), info: info}, nil
}

// RemoveAll soft deletes a record or clears a field.
func (f *FileSystem) RemoveAll(ctx context.Context, name string) error {
	req, err := request(ctx, "remove", name)
	if err != nil {
		return err
	}
	if _, err := f.verbs.Delete(ctx, req, name); err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// Rename is unsupported: record ids and field names are fixed.
func (f *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	return &os.PathError{Op: "rename", Path: oldName, Err: errors.ErrUnsupported}
}

func (f *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	req, err := request(ctx, "stat", name)
	if err != nil {
		return nil, err
	}
	st, err := f.verbs.Stat(ctx, req, name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return metaInfo(name, st.FileMetadata), nil
}

func request(ctx context.Context, op, name string) (fileops.Request, error) {
	req, ok := requestFrom(ctx)
	if !ok {
		return fileops.Request{}, &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	}
	return req, nil
}

// pathError translates verb errors into the os errors the WebDAV handler
// turns into status codes.
func pathError(op, name string, err error) error {
	target := err
	switch fserr.As(err).HTTPStatus() {
	case http.StatusNotFound:
		target = os.ErrNotExist
	case http.StatusForbidden:
		target = os.ErrPermission
	case http.StatusConflict:
		target = os.ErrExist
	}
	return &os.PathError{Op: op, Path: name, Err: target}
}

func rawBytes(content any) ([]byte, error) {
	switch v := content.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil
	default:
		return json.Marshal(v)
	}
}

// storeValue decodes a PUT body. Record paths take a JSON object, every
// other file takes the body as text.
func storeValue(name string, body []byte) (any, error) {
	p, err := vpath.Parse(name, vpath.Options{})
	if err != nil {
		return nil, err
	}
	switch p.Target.(type) {
	case vpath.RecordTarget, vpath.ColumnTarget:
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fserr.New(fserr.RequestInvalidFormat, p.Normalized, "body is not a JSON object: %v", err)
		}
		return m, nil
	default:
		return string(body), nil
	}
}

type fileInfo struct {
	name        string
	size        int64
	modified    time.Time
	dir         bool
	contentType string
	etag        string
}

func metaInfo(name string, m fileops.FileMetadata) *fileInfo {
	return &fileInfo{
		name:        path.Base(path.Clean("/" + name)),
		size:        m.Size,
		modified:    m.ModifiedTime,
		dir:         m.Type == fileops.MetaDirectory,
		contentType: m.ContentType,
		etag:        m.ETag,
	}
}

func entryInfo(e fileops.FileEntry) *fileInfo {
	return &fileInfo{
		name:        e.Name,
		size:        e.FileSize,
		modified:    e.Modified(),
		dir:         e.FileType == fileops.TypeDir,
		contentType: e.ContentType,
		etag:        e.ETag,
	}
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) ModTime() time.Time { return i.modified }
func (i *fileInfo) IsDir() bool        { return i.dir }
func (i *fileInfo) Sys() any           { return nil }

func (i *fileInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// ContentType implements webdav.ContentTyper so PROPFIND does not open files
// to sniff them.
func (i *fileInfo) ContentType(ctx context.Context) (string, error) {
	if i.contentType == "" {
		return "", webdav.ErrNotImplemented
	}
	return i.contentType, nil
}

// ETag implements webdav.ETager.
func (i *fileInfo) ETag(ctx context.Context) (string, error) {
	if i.etag == "" {
		return "", webdav.ErrNotImplemented
	}
	return `"` + i.etag + `"`, nil
}

// readFile is an open field or record document.
type readFile struct {
	*bytes.Reader
	info *fileInfo
}

func (f *readFile) Close() error                             { return nil }
func (f *readFile) Stat() (fs.FileInfo, error)               { return f.info, nil }
func (f *readFile) Write(p []byte) (int, error)              { return 0, fs.ErrPermission }
func (f *readFile) Readdir(count int) ([]fs.FileInfo, error) { return nil, fs.ErrInvalid }

// dirFile is an open collection. Entries are listed on first Readdir.
type dirFile struct {
	ctx     context.Context
	fs      *FileSystem
	req     fileops.Request
	name    string
	info    *fileInfo
	entries []fs.FileInfo
	loaded  bool
	pos     int
}

func (d *dirFile) Close() error                                 { return nil }
func (d *dirFile) Stat() (fs.FileInfo, error)                   { return d.info, nil }
func (d *dirFile) Read(p []byte) (int, error)                   { return 0, fs.ErrInvalid }
func (d *dirFile) Write(p []byte) (int, error)                  { return 0, fs.ErrPermission }
func (d *dirFile) Seek(offset int64, whence int) (int64, error) { return 0, fs.ErrInvalid }

func (d *dirFile) Readdir(count int) ([]fs.FileInfo, error) {
	if !d.loaded {
		opts := fileops.DefaultListOptions()
		opts.LongFormat = true
		res, err := d.fs.verbs.List(d.ctx, d.req, d.name, opts)
		if err != nil {
			return nil, pathError("readdir", d.name, err)
		}
		d.entries = make([]fs.FileInfo, 0, len(res.Entries))
		for _, e := range res.Entries {
			d.entries = append(d.entries, entryInfo(e))
		}
		d.loaded = true
	}

	rest := d.entries[d.pos:]
	if count <= 0 {
		d.pos = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if count > len(rest) {
		count = len(rest)
	}
	d.pos += count
	return rest[:count], nil
}

// writeFile buffers a PUT body and stores it on Close.
type writeFile struct {
	ctx        context.Context
	fs         *FileSystem
	req        fileops.Request
	name       string
	appendMode bool
	buf        bytes.Buffer
	closed     bool
}

func (w *writeFile) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writeFile) Read(p []byte) (int, error)                   { return 0, fs.ErrInvalid }
func (w *writeFile) Seek(offset int64, whence int) (int64, error) { return 0, fs.ErrInvalid }
func (w *writeFile) Readdir(count int) ([]fs.FileInfo, error)     { return nil, fs.ErrInvalid }

func (w *writeFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{
		name:     path.Base(path.Clean("/" + w.name)),
		size:     int64(w.buf.Len()),
		modified: time.Now().UTC(),
	}, nil
}

func (w *writeFile) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	value, err := storeValue(w.name, w.buf.Bytes())
	if err != nil {
		return pathError("write", w.name, err)
	}
	opts := fileops.DefaultStoreOptions()
	opts.AppendMode = w.appendMode
	if _, err := w.fs.verbs.Store(w.ctx, w.req, w.name, value, opts); err != nil {
		return pathError("write", w.name, err)
	}
	return nil
}
