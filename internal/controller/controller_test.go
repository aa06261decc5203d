package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/firestarter/internal/intent"
	"github.com/loykin/firestarter/internal/menu"
	"github.com/loykin/firestarter/internal/migration"
	"github.com/loykin/firestarter/internal/orchestrator"
	"github.com/loykin/firestarter/internal/project"
)

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []string
	snap  orchestrator.Snapshot
}

func (f *fakeOrchestrator) record(s string) error {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeOrchestrator) Build() error                          { return f.record("build") }
func (f *fakeOrchestrator) Release() error                        { return f.record("release") }
func (f *fakeOrchestrator) Run() error                            { return f.record("run") }
func (f *fakeOrchestrator) Stop(context.Context) error            { return f.record("stop") }
func (f *fakeOrchestrator) Restart(context.Context) error         { return f.record("restart") }
func (f *fakeOrchestrator) BuildAndRestart(context.Context) error { return f.record("build-and-restart") }
func (f *fakeOrchestrator) Shutdown(context.Context) error        { return f.record("shutdown") }
func (f *fakeOrchestrator) Snapshot() orchestrator.Snapshot       { return f.snap }

type fakeResolver struct {
	mu       sync.Mutex
	versions map[string]int
	fail     map[string]error
	reads    int
	applied  []string
}

func (r *fakeResolver) CurrentVersion(_ context.Context, app, dsn string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if dsn == "" {
		return 0, &migration.ConfigurationError{Reason: "no database"}
	}
	if err := r.fail[app]; err != nil {
		return 0, &migration.ConnectionError{App: app, Err: err}
	}
	return r.versions[app], nil
}

func (r *fakeResolver) Pending(ctx context.Context, app, dsn string, names []string) (int, []migration.File, error) {
	v, err := r.CurrentVersion(ctx, app, dsn)
	if err != nil {
		return 0, nil, err
	}
	return v, migration.ListPending(app, names, v), nil
}

func (r *fakeResolver) Apply(app string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, intent.MigrateName(app, version))
	return nil
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

func newProject(t *testing.T, files map[string]string) *project.Project {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"dependencies":{"fire":"^0.40"}}`)
	for name, data := range files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(name)), data)
	}
	p, err := project.New(project.Options{Root: dir})
	require.NoError(t, err)
	return p
}

type capture struct {
	mu    sync.Mutex
	trees []menu.Tree
}

func (c *capture) Render(t menu.Tree) {
	c.mu.Lock()
	c.trees = append(c.trees, t)
	c.mu.Unlock()
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trees)
}

func TestInitRegistersIntentsAndRendersMenu(t *testing.T) {
	p := newProject(t, map[string]string{
		".env":                               "DATABASE_URL=postgres://localhost/app\nNODE_APP=api\n",
		".fire/migrations/api/001_a.js":      "",
		".fire/migrations/api/002_b.js":      "",
		".fire/migrations/worker/001_c.js":   "",
		".fire/migrations/worker/.gitignore": "",
	})
	reg := intent.NewRegistry()
	res := &fakeResolver{versions: map[string]int{"api": 1, "worker": 1}}
	orch := &fakeOrchestrator{}
	pres := &capture{}

	c := New(Options{Project: p, Orchestrator: orch, Resolver: res, Commands: reg, Presenter: pres})
	require.NoError(t, c.Init(context.Background()))

	for _, n := range []string{intent.Build, intent.Release, intent.Run, intent.Stop, intent.Restart, intent.BuildAndRestart, "migrate:api:2"} {
		assert.True(t, reg.Registered(n), "expected %s to be registered", n)
	}
	assert.False(t, reg.Registered("migrate:api:1"), "applied versions are not offered")
	require.Equal(t, 1, pres.count())

	view := c.View()
	assert.Equal(t, "api", view.CurrentApp)
	require.Len(t, view.Migrations, 2)
	assert.Equal(t, "migrate:api:2", view.Tree.Commands()[len(view.Tree.Commands())-1])
	assert.True(t, view.Tree.Items[0].Checked, "current app is checked")

	// intents reach the orchestrator
	require.NoError(t, reg.Dispatch(context.Background(), intent.BuildAndRestart))
	require.NoError(t, reg.Dispatch(context.Background(), intent.Stop))
	assert.Equal(t, []string{"build-and-restart", "stop"}, orch.calls)

	// a second init does not fail on already registered intents
	require.NoError(t, c.Init(context.Background()))
}

func TestInitRequiresRegistry(t *testing.T) {
	c := New(Options{Project: newProject(t, nil), Orchestrator: &fakeOrchestrator{}, Resolver: &fakeResolver{}})
	require.ErrorIs(t, c.Init(context.Background()), intent.ErrNoRegistry)
}

func TestInitRejectsUnrecognizedProject(t *testing.T) {
	p, err := project.New(project.Options{Root: t.TempDir()})
	require.NoError(t, err)
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: &fakeResolver{}, Commands: intent.NewRegistry()})
	err = c.Init(context.Background())
	var ce *migration.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.ErrorIs(t, err, project.ErrNotRecognized)
}

func TestRefreshWithoutDatabaseStillRenders(t *testing.T) {
	p := newProject(t, map[string]string{".fire/migrations/001_a.js": ""})
	res := &fakeResolver{}
	pres := &capture{}
	orch := &fakeOrchestrator{snap: orchestrator.Snapshot{State: orchestrator.StateBuilding, Task: orchestrator.StateBuilding, Running: true}}
	c := New(Options{Project: p, Orchestrator: orch, Resolver: res, Commands: intent.NewRegistry(), Presenter: pres})

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 0, res.reads, "no database means no version read")
	view := c.View()
	assert.Empty(t, view.Migrations)
	assert.Equal(t, "Building...", view.Tree.Items[0].Label)
	assert.Equal(t, "Stop", view.Tree.Items[2].Label)
}

func TestRefreshReportsBrokenSourcesButRenders(t *testing.T) {
	p := newProject(t, map[string]string{".env": "DATABASE_URL=postgres://localhost/app\n"})
	pres := &capture{}
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: &fakeResolver{}, Commands: intent.NewRegistry(), Presenter: pres})

	err := c.Refresh(context.Background())
	var ce *migration.ConfigurationError
	require.ErrorAs(t, err, &ce, "missing migrations directory is reported")
	assert.Equal(t, 1, pres.count())
}

func TestSchemaFailureRendersDisabledEntry(t *testing.T) {
	p := newProject(t, map[string]string{
		".env":                      "DATABASE_URL=postgres://localhost/app\n",
		".fire/migrations/001_a.js": "",
	})
	res := &fakeResolver{fail: map[string]error{migration.DefaultApp: errors.New("connection refused")}}
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: res, Commands: intent.NewRegistry()})

	require.NoError(t, c.Refresh(context.Background()))
	view := c.View()
	require.Len(t, view.Migrations, 1)
	assert.Contains(t, view.Migrations[0].Err, "connection refused")
	sub := view.Tree.Items[len(view.Tree.Items)-1].Submenu
	require.Len(t, sub, 1)
	assert.True(t, sub[0].Disabled)
}

func TestMigrationPromptReadsVersionFresh(t *testing.T) {
	p := newProject(t, map[string]string{".env": "DATABASE_URL=postgres://localhost/app\n"})
	res := &fakeResolver{versions: map[string]int{"default": 3}}
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: res, Commands: intent.NewRegistry()})

	msg, err := c.MigrationPrompt(context.Background(), "default", 5)
	require.NoError(t, err)
	assert.Equal(t, "Do you want to migrate from version `3` to `5`?", msg)

	res.mu.Lock()
	res.versions["default"] = 4
	res.mu.Unlock()
	msg, err = c.MigrationPrompt(context.Background(), "default", 5)
	require.NoError(t, err)
	assert.Equal(t, "Do you want to migrate from version `4` to `5`?", msg)
	assert.Equal(t, 2, res.reads)
}

func TestMigrateIntentAppliesAndRefreshes(t *testing.T) {
	p := newProject(t, map[string]string{
		".env":                      "DATABASE_URL=postgres://localhost/app\n",
		".fire/migrations/001_a.js": "",
		".fire/migrations/002_b.js": "",
	})
	reg := intent.NewRegistry()
	res := &fakeResolver{versions: map[string]int{}}
	pres := &capture{}
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: res, Commands: reg, Presenter: pres})
	require.NoError(t, c.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	before := pres.count()
	require.NoError(t, reg.Dispatch(context.Background(), "migrate:default:2"))
	assert.Equal(t, []string{"migrate:default:2"}, res.applied)
	require.Eventually(t, func() bool { return pres.count() > before }, time.Second, 5*time.Millisecond)

	pending, err := c.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []int{2, 1}, migration.Versions(pending[0].Pending))
}

func TestAppWithColonIsNotOfferedForMigration(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("':' is not allowed in Windows file names")
	}
	p := newProject(t, map[string]string{
		".env":                          "DATABASE_URL=postgres://localhost/app\n",
		".fire/migrations/a:b/001_x.js": "",
		".fire/migrations/api/001_x.js": "",
	})
	reg := intent.NewRegistry()
	c := New(Options{Project: p, Orchestrator: &fakeOrchestrator{}, Resolver: &fakeResolver{versions: map[string]int{}}, Commands: reg})

	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, reg.Registered("migrate:api:1"))
	assert.False(t, reg.Registered("migrate:a:b:1"))
	for _, cmd := range c.View().Tree.Commands() {
		if intent.HasMigratePrefix(cmd) {
			assert.True(t, intent.IsMigrate(cmd), "menu offers malformed intent %q", cmd)
		}
	}
	require.Len(t, c.View().Migrations, 1)
	assert.Equal(t, "api", c.View().Migrations[0].App)
}

func TestShutdownStopsApplication(t *testing.T) {
	orch := &fakeOrchestrator{}
	c := New(Options{Project: newProject(t, nil), Orchestrator: orch, Resolver: &fakeResolver{}, Commands: intent.NewRegistry()})
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"shutdown"}, orch.calls)
}
