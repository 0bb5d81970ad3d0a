package fileops

import (
	"time"

	"github.com/fruitsalade/tenantfs/internal/acl"
)

// Entry types.
const (
	TypeDir  = "d"
	TypeFile = "f"
)

// Metadata types.
const (
	MetaFile      = "file"
	MetaDirectory = "directory"
)

// Timestamp sources reported by ModifyTime.
const (
	SourceUpdatedAt   = "updated_at"
	SourceCreatedAt   = "created_at"
	SourceCurrentTime = "current_time"
)

// Store and delete operations.
const (
	OpCreate       = "create"
	OpUpdate       = "update"
	OpMerge        = "merge"
	OpFieldUpdate  = "field_update"
	OpFieldAppend  = "field_append"
	OpColumnUpdate = "column_update"
	OpFieldClear   = "field_clear"
	OpSoftDelete   = "soft_delete"
)

// mdtmLayout is the FTP MDTM timestamp layout used in listings.
const mdtmLayout = "20060102150405"

// Request identifies the caller and the tenant namespace a verb runs in.
type Request struct {
	Tenant    string
	Namespace string
	Identity  acl.Identity
}

// APIContext locates an entry in the relational model.
type APIContext struct {
	Schema      string    `json:"schema,omitempty"`
	RecordID    string    `json:"record_id,omitempty"`
	FieldName   string    `json:"field_name,omitempty"`
	AccessLevel acl.Level `json:"access_level"`
}

// FileEntry is one line of a directory listing.
type FileEntry struct {
	Name            string     `json:"name"`
	FileType        string     `json:"file_type"`
	FileSize        int64      `json:"file_size"`
	FilePermissions string     `json:"file_permissions"`
	FileModified    string     `json:"file_modified"`
	Path            string     `json:"path"`
	APIContext      APIContext `json:"api_context"`

	CreatedTime string `json:"created_time,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ETag        string `json:"etag,omitempty"`
	SoftDeleted *bool  `json:"soft_deleted,omitempty"`
	FieldCount  *int   `json:"field_count,omitempty"`

	modified time.Time
}

// Modified returns the entry's modification time.
func (e FileEntry) Modified() time.Time {
	return e.modified
}

// FileMetadata describes the target of a verb.
type FileMetadata struct {
	Path         string     `json:"path"`
	Type         string     `json:"type"`
	Permissions  string     `json:"permissions"`
	Size         int64      `json:"size"`
	ModifiedTime time.Time  `json:"modified_time"`
	CreatedTime  *time.Time `json:"created_time,omitempty"`
	AccessTime   *time.Time `json:"access_time,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	CanResume    bool       `json:"can_resume"`
}

// ListResult is returned by List.
type ListResult struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
	Total   int         `json:"total"`
}

// RetrieveResult is returned by Retrieve. Content is the typed value for
// format=json and a string for format=raw.
type RetrieveResult struct {
	Content  any          `json:"content"`
	Metadata FileMetadata `json:"file_metadata"`
}

// StoreResult is returned by Store.
type StoreResult struct {
	Success   bool         `json:"success"`
	Operation string       `json:"operation"`
	Created   bool         `json:"created"`
	Restored  bool         `json:"restored,omitempty"`
	Result    any          `json:"result"`
	Metadata  FileMetadata `json:"file_metadata"`
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	Success    bool         `json:"success"`
	Operation  string       `json:"operation"`
	CanRestore bool         `json:"can_restore"`
	Result     any          `json:"result"`
	Metadata   FileMetadata `json:"file_metadata"`
}

// StatResult is returned by Stat.
type StatResult struct {
	FileMetadata
	ChildrenCount *int64    `json:"children_count,omitempty"`
	RecordCount   *int64    `json:"record_count,omitempty"`
	FieldCount    *int      `json:"field_count,omitempty"`
	SoftDeleted   *bool     `json:"soft_deleted,omitempty"`
	AccessLevel   acl.Level `json:"access_level,omitempty"`
	Definition    any       `json:"definition,omitempty"`
}

// SizeResult is returned by Size.
type SizeResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ModifyTimeResult is returned by ModifyTime.
type ModifyTimeResult struct {
	Path         string    `json:"path"`
	ModifiedTime time.Time `json:"modified_time"`
	Source       string    `json:"source"`
}
