// Package acl derives filesystem permissions from per-record access lists.
package acl

// Level is the effective access a caller has on a record.
type Level string

const (
	LevelFull Level = "full"
	LevelEdit Level = "edit"
	LevelRead Level = "read"
	LevelNone Level = "none"
)

// Permission strings shown in listings.
const (
	PermFull    = "rwx"
	PermEdit    = "rw-"
	PermRead    = "r--"
	PermDirRead = "r-x"
	PermNone    = "---"
)

// User is the caller as seen by the permission check: its own id plus the
// ids (groups, roles) it inherits full, edit and read grants through.
type User struct {
	ID   string
	Full []string
	Edit []string
	Read []string
}

// Identity supplies who is calling.
type Identity interface {
	IsRoot() bool
	User() User
}

// ACL holds the four access arrays carried by every record.
type ACL struct {
	Read []string
	Edit []string
	Full []string
	Deny []string
}

// Access is the derived permission for one record.
type Access struct {
	Permissions string
	Level       Level
}

// CanRead reports whether the record is visible to the caller.
func (a Access) CanRead() bool {
	return a.Level != LevelNone
}

// CanWrite reports whether the caller may modify the record.
func (a Access) CanWrite() bool {
	return a.Level == LevelFull || a.Level == LevelEdit
}

// Satisfies reports whether a covers the required level.
// full > edit > read > none
func (a Access) Satisfies(required Level) bool {
	return rank[a.Level] >= rank[required]
}

var rank = map[Level]int{LevelNone: 0, LevelRead: 1, LevelEdit: 2, LevelFull: 3}

// Derive computes the caller's access to a record. The first matching rule
// wins: root, deny, full, edit, read. A record that grants nothing to the
// caller is readable.
func Derive(id Identity, list ACL) Access {
	if id != nil && id.IsRoot() {
		return Access{Permissions: PermFull, Level: LevelFull}
	}

	var u User
	if id != nil {
		u = id.User()
	}

	all := idSet(u.ID, u.Full, u.Edit, u.Read)
	if intersects(list.Deny, all) {
		return Access{Permissions: PermNone, Level: LevelNone}
	}
	if intersects(list.Full, idSet(u.ID, u.Full)) {
		return Access{Permissions: PermFull, Level: LevelFull}
	}
	if intersects(list.Edit, idSet(u.ID, u.Edit)) {
		return Access{Permissions: PermEdit, Level: LevelEdit}
	}
	if intersects(list.Read, idSet(u.ID, u.Read)) {
		return Access{Permissions: PermRead, Level: LevelRead}
	}
	return Access{Permissions: PermRead, Level: LevelRead}
}

// DirectoryPermissions returns the permission string for virtual directories.
func DirectoryPermissions(id Identity) string {
	if id != nil && id.IsRoot() {
		return PermFull
	}
	return PermDirRead
}

// IsRoot is a nil-safe root check.
func IsRoot(id Identity) bool {
	return id != nil && id.IsRoot()
}

func idSet(self string, groups ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	if self != "" {
		set[self] = struct{}{}
	}
	for _, g := range groups {
		for _, v := range g {
			if v != "" {
				set[v] = struct{}{}
			}
		}
	}
	return set
}

func intersects(list []string, set map[string]struct{}) bool {
	for _, v := range list {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Static is a fixed identity, used by the CLI and tests.
type Static struct {
	Root bool
	U    User
}

func (s Static) IsRoot() bool { return s.Root }
func (s Static) User() User   { return s.U }

// Root is the superuser identity.
var Root Identity = Static{Root: true, U: User{ID: "root"}}
