package migration

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/loykin/firestarter/internal/schema"
)

func TestListPendingOrdersDescending(t *testing.T) {
	got := ListPending("app1", []string{"001_x.js", "003_y.js", "002_z.js"}, 1)
	if v := Versions(got); !reflect.DeepEqual(v, []int{3, 2}) {
		t.Fatalf("expected [3 2], got %v", v)
	}
	if got[0].App != "app1" || got[0].Name != "003_y.js" || got[0].Prefix != "003" {
		t.Fatalf("unexpected file: %+v", got[0])
	}
	if v := Versions(Ascending(got)); !reflect.DeepEqual(v, []int{2, 3}) {
		t.Fatalf("ascending: %v", v)
	}
}

func TestListPendingDedupesAndSkipsUnversioned(t *testing.T) {
	names := []string{"010_b.js", "README.md", "010_a.js", "4-init.sql", "x1.js", "0004_dup.js"}
	got := ListPending(DefaultApp, names, 0)
	if v := Versions(got); !reflect.DeepEqual(v, []int{10, 4}) {
		t.Fatalf("expected [10 4], got %v", v)
	}
	if got[0].Name != "010_a.js" {
		t.Fatalf("first name should win a duplicate version, got %s", got[0].Name)
	}
	if got[1].Name != "0004_dup.js" {
		t.Fatalf("expected 0004_dup.js, got %s", got[1].Name)
	}
	if len(ListPending(DefaultApp, names, 10)) != 0 {
		t.Fatalf("nothing is pending at the newest version")
	}
}

func TestDiscoverFlat(t *testing.T) {
	fsys := fstest.MapFS{
		".fire/migrations/001_init.js":  {Data: []byte("")},
		".fire/migrations/002_users.js": {Data: []byte("")},
		".fire/migrations/.DS_Store":    {Data: []byte("")},
		".fire/migrations/notes.txt":    {Data: []byte("")},
	}
	l, err := Discover(fsys, ".fire/migrations")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !l.Flat || len(l.Apps) != 1 || l.Apps[0].Name != DefaultApp {
		t.Fatalf("expected flat default layout, got %+v", l)
	}
	if !reflect.DeepEqual(l.Apps[0].Scripts, []string{"001_init.js", "002_users.js"}) {
		t.Fatalf("unexpected scripts %v", l.Apps[0].Scripts)
	}
}

func TestDiscoverPerApp(t *testing.T) {
	fsys := fstest.MapFS{
		"m/api/001_a.js":     {Data: []byte("")},
		"m/api/002_b.js":     {Data: []byte("")},
		"m/worker/001_c.js":  {Data: []byte("")},
		"m/.git/config":      {Data: []byte("")},
		"m/worker/.keep":     {Data: []byte("")},
		"m/readme-first.txt": {Data: []byte("")},
	}
	l, err := Discover(fsys, "m")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if l.Flat || len(l.Apps) != 2 {
		t.Fatalf("expected two apps, got %+v", l)
	}
	api, ok := l.App("api")
	if !ok || !reflect.DeepEqual(api.Scripts, []string{"001_a.js", "002_b.js"}) {
		t.Fatalf("api scripts: %+v", api)
	}
	worker, _ := l.App("worker")
	if !reflect.DeepEqual(worker.Scripts, []string{"001_c.js"}) {
		t.Fatalf("worker scripts: %+v", worker)
	}
}

func TestDiscoverMissingDirectory(t *testing.T) {
	_, err := Discover(fstest.MapFS{}, ".fire/migrations")
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

// fakeConn counts Close calls.
type fakeConn struct {
	version int
	ok      bool
	err     error
	closes  int
}

func (c *fakeConn) LatestVersion(context.Context) (int, bool, error) { return c.version, c.ok, c.err }
func (c *fakeConn) Close(context.Context) error {
	c.closes++
	return nil
}

func connectorFor(c *fakeConn) schema.Connector {
	return schema.ConnectorFunc(func(context.Context, string) (schema.Conn, error) { return c, nil })
}

func TestCurrentVersion(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		conn    *fakeConn
		want    int
		wantErr bool
	}{
		{name: "no rows", conn: &fakeConn{}, want: 0},
		{name: "one row", conn: &fakeConn{version: 42, ok: true}, want: 42},
		{name: "query error", conn: &fakeConn{err: errors.New("relation \"schemas\" does not exist")}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(connectorFor(tc.conn), nil)
			v, err := r.CurrentVersion(ctx, "app1", "postgres://localhost/app")
			if tc.wantErr {
				var ce *ConnectionError
				if !errors.As(err, &ce) {
					t.Fatalf("expected ConnectionError, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v != tc.want {
				t.Fatalf("version = %d, want %d", v, tc.want)
			}
			if tc.conn.closes != 1 {
				t.Fatalf("connection closed %d times, want 1", tc.conn.closes)
			}
		})
	}
}

func TestCurrentVersionConnectFailure(t *testing.T) {
	r := NewResolver(schema.ConnectorFunc(func(context.Context, string) (schema.Conn, error) {
		return nil, errors.New("connection refused")
	}), nil)
	_, err := r.CurrentVersion(context.Background(), "app1", "postgres://localhost/app")
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.App != "app1" {
		t.Fatalf("expected ConnectionError for app1, got %v", err)
	}

	_, err = r.CurrentVersion(context.Background(), "app1", "")
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigurationError without DSN, got %v", err)
	}
}

type recordingMigrator struct {
	calls []string
}

func (m *recordingMigrator) Migrate(app string, version int) error {
	m.calls = append(m.calls, fmt.Sprintf("%s:%d", app, version))
	return nil
}

func TestPendingAndApply(t *testing.T) {
	m := &recordingMigrator{}
	r := NewResolver(connectorFor(&fakeConn{version: 2, ok: true}), m)
	current, files, err := r.Pending(context.Background(), "api", "sqlite:///tmp/app.db", []string{"001_a.js", "002_b.js", "003_c.js", "005_d.js"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if current != 2 || !reflect.DeepEqual(Versions(files), []int{5, 3}) {
		t.Fatalf("current=%d files=%v", current, Versions(files))
	}
	if err := r.Apply("api", 3); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := r.Apply("api", 3); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if !reflect.DeepEqual(m.calls, []string{"api:3", "api:3"}) {
		t.Fatalf("unexpected calls %v", m.calls)
	}
}
