package fileops

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/fserr"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metadata/memory"
	"github.com/fruitsalade/tenantfs/internal/record"
	"github.com/fruitsalade/tenantfs/internal/schema"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

const testNamespace = "tenant_acme"

var (
	seedTime  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	storeTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	wallTime  = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type fixture struct {
	store *memory.Store
	rt    *txn.Runtime
	svc   *Service
	pub   *recorder
	root  Request
	alice Request
}

func text(name string) *schema.Column {
	return &schema.Column{Name: name, Type: schema.TypeText}
}

func rec(id string, fields map[string]any) *record.Record {
	r := record.New(id)
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

func usersSchema() *schema.Schema {
	return &schema.Schema{Name: "users", Columns: []*schema.Column{
		{Name: "name", Type: schema.TypeText, Required: true},
		text("email"),
		{Name: "age", Type: schema.TypeInteger},
		text("notes"),
		{Name: "tags", Type: schema.TypeTextArray},
	}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.SetClock(func() time.Time { return seedTime })

	u1 := rec("u1", map[string]any{"name": "Alice", "email": "alice@example.com", "notes": "hello"})
	u1.AccessFull = []string{"u-alice"}
	u2 := rec("u2", map[string]any{"name": "Bob"})
	u2.AccessDeny = []string{"u-alice"}
	u3 := rec("u3", map[string]any{"name": "Carol"})
	u3.AccessRead = []string{"u-alice"}
	st.Seed(testNamespace, usersSchema(), u1, u2, u3)

	account := &schema.Schema{Name: "account", Columns: []*schema.Column{text("email"), text("note")}}
	st.Seed(testNamespace, account, rec("123", map[string]any{"email": "bob@example.com", "note": "abcdefgh"}))

	things := &schema.Schema{Name: "things", Columns: []*schema.Column{text("a"), text("b"), text("c")}}
	st.Seed(testNamespace, things,
		rec("t1", map[string]any{"a": "xx", "b": "yy", "c": "z"}),
		rec("t2", map[string]any{"a": "q"}),
	)
	st.SetClock(func() time.Time { return storeTime })

	rt := txn.New(st, txn.WithCacheLoader(metadata.CacheLoader(st)))
	pub := &recorder{}
	svc := New(rt, st, WithPublisher(pub), WithClock(func() time.Time { return wallTime }))

	f := &fixture{
		store: st,
		rt:    rt,
		svc:   svc,
		pub:   pub,
		root:  Request{Tenant: "acme", Namespace: testNamespace, Identity: acl.Root},
		alice: Request{Tenant: "acme", Namespace: testNamespace, Identity: acl.Static{U: acl.User{ID: "u-alice"}}},
	}
	t.Cleanup(func() {
		stats := st.Stats()
		assert.Equal(t, 0, stats.Open, "connections left open")
		assert.Equal(t, 0, stats.DoubleCloses, "connections released twice")
	})
	return f
}

func assertCode(t *testing.T, err error, code fserr.Code) {
	t.Helper()
	if assert.Error(t, err) {
		assert.Equal(t, code, fserr.CodeOf(err), err.Error())
	}
}

func names(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func i64(v int64) *int64 { return &v }
