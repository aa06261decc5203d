// Package controller wires the orchestrator, the migration resolver and the
// intent registry to a project, and rebuilds the menu after every change.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/firestarter/internal/env"
	"github.com/loykin/firestarter/internal/intent"
	"github.com/loykin/firestarter/internal/menu"
	"github.com/loykin/firestarter/internal/migration"
	"github.com/loykin/firestarter/internal/orchestrator"
)

// Default environment keys read from the project .env file.
const (
	DefaultDatabaseURLKey = "DATABASE_URL"
	DefaultAppKey         = "NODE_APP"
)

// Project is the source of environment and migration scripts.
type Project interface {
	Root() string
	Recognize() error
	Env() (env.Var, error)
	Migrations() (fs.FS, string)
}

// Orchestrator is the task state machine.
type Orchestrator interface {
	Build() error
	Release() error
	Run() error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	BuildAndRestart(ctx context.Context) error
	Snapshot() orchestrator.Snapshot
	Shutdown(ctx context.Context) error
}

// Resolver reconciles schema versions with migration scripts.
type Resolver interface {
	CurrentVersion(ctx context.Context, app, dsn string) (int, error)
	Pending(ctx context.Context, app, dsn string, names []string) (int, []migration.File, error)
	Apply(app string, version int) error
}

// Presenter installs a freshly built menu, discarding the previous one.
type Presenter interface {
	Render(t menu.Tree)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(t menu.Tree)

func (f PresenterFunc) Render(t menu.Tree) { f(t) }

type Options struct {
	Project      Project
	Orchestrator Orchestrator
	Resolver     Resolver
	Commands     intent.Commands
	Presenter    Presenter

	DatabaseURLKey string
	AppKey         string
}

// View is the outcome of the last refresh.
type View struct {
	Tree        menu.Tree            `json:"tree"`
	Migrations  []menu.AppMigrations `json:"migrations"`
	CurrentApp  string               `json:"current_app,omitempty"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}

type Controller struct {
	project   Project
	orch      Orchestrator
	resolver  Resolver
	commands  intent.Commands
	presenter Presenter
	dbKey     string
	appKey    string

	refreshMu sync.Mutex // serializes refreshes
	mu        sync.RWMutex
	view      View

	kick chan struct{}
}

func New(opts Options) *Controller {
	c := &Controller{
		project:   opts.Project,
		orch:      opts.Orchestrator,
		resolver:  opts.Resolver,
		commands:  opts.Commands,
		presenter: opts.Presenter,
		dbKey:     opts.DatabaseURLKey,
		appKey:    opts.AppKey,
		kick:      make(chan struct{}, 1),
	}
	if c.dbKey == "" {
		c.dbKey = DefaultDatabaseURLKey
	}
	if c.appKey == "" {
		c.appKey = DefaultAppKey
	}
	return c
}

// Init checks the environment, registers the fixed intents and renders the
// first menu. A missing command registry is the only fatal condition.
func (c *Controller) Init(ctx context.Context) error {
	if c.commands == nil {
		return intent.ErrNoRegistry
	}
	if err := c.project.Recognize(); err != nil {
		return &migration.ConfigurationError{Reason: "project " + c.project.Root(), Err: err}
	}

	fixed := []struct {
		name string
		h    intent.Handler
	}{
		{intent.Build, func(context.Context) error { return c.orch.Build() }},
		{intent.Release, func(context.Context) error { return c.orch.Release() }},
		{intent.Run, func(context.Context) error { return c.orch.Run() }},
		{intent.Stop, c.orch.Stop},
		{intent.Restart, c.orch.Restart},
		{intent.BuildAndRestart, c.orch.BuildAndRestart},
	}
	for _, f := range fixed {
		if c.commands.Registered(f.name) {
			continue
		}
		if err := c.commands.Add(f.name, f.h); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}

	if err := c.Refresh(ctx); err != nil {
		slog.Warn("Initial refresh incomplete", "error", err)
	}
	return nil
}

// Refresh re-reads the environment and migration scripts, fetches schema
// versions, registers new migrate intents and renders the menu. Problems
// with one source are reported but never prevent rendering.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	var errs []error
	vars, err := c.project.Env()
	if err != nil {
		errs = append(errs, err)
		vars = env.Var{}
	}

	fsys, dir := c.project.Migrations()
	layout, err := migration.Discover(fsys, dir)
	if err != nil {
		errs = append(errs, err)
	}

	migrations := c.collect(ctx, layout, vars[c.dbKey])

	var apps []string
	if !layout.Flat {
		for _, a := range layout.Apps {
			apps = append(apps, a.Name)
		}
	}

	snap := c.orch.Snapshot()
	tree := menu.Build(menu.Input{
		Apps:       apps,
		CurrentApp: vars[c.appKey],
		Building:   snap.Task == orchestrator.StateBuilding,
		Releasing:  snap.Task == orchestrator.StateReleasing,
		Running:    snap.Running || snap.Starting,
		Flat:       layout.Flat,
		Migrations: migrations,
	})

	c.mu.Lock()
	c.view = View{Tree: tree, Migrations: migrations, CurrentApp: vars[c.appKey], RefreshedAt: time.Now().UTC()}
	c.mu.Unlock()

	if c.presenter != nil {
		c.presenter.Render(tree)
	}
	return errors.Join(errs...)
}

// collect fetches the pending migrations of every application with scripts.
// Without a database URL there is nothing to compare against. Applications
// whose name cannot form a migrate intent are left out.
func (c *Controller) collect(ctx context.Context, layout migration.Layout, dsn string) []menu.AppMigrations {
	if dsn == "" {
		return nil
	}
	var out []menu.AppMigrations
	for _, a := range layout.Apps {
		if len(a.Scripts) == 0 {
			continue
		}
		if !intent.ValidApp(a.Name) {
			slog.Warn("Skipping migrations of application with ':' in its name", "app", a.Name)
			continue
		}
		current, files, err := c.resolver.Pending(ctx, a.Name, dsn, a.Scripts)
		am := menu.AppMigrations{App: a.Name, Current: current, Pending: files}
		if err != nil {
			slog.Warn("Failed to read schema version", "app", a.Name, "error", err)
			am.Err = err.Error()
		}
		for _, f := range files {
			c.registerMigrate(a.Name, f.Version)
		}
		out = append(out, am)
	}
	return out
}

func (c *Controller) registerMigrate(app string, version int) {
	name := intent.MigrateName(app, version)
	if !intent.IsMigrate(name) || c.commands.Registered(name) {
		return
	}
	err := c.commands.Add(name, func(context.Context) error {
		err := c.resolver.Apply(app, version)
		c.Kick()
		return err
	})
	if err != nil && !errors.Is(err, intent.ErrDuplicate) {
		slog.Warn("Failed to register migrate intent", "intent", name, "error", err)
	}
}

// View returns the outcome of the last refresh.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Pending reads the pending migrations of every application fresh.
func (c *Controller) Pending(ctx context.Context) ([]menu.AppMigrations, error) {
	vars, err := c.project.Env()
	if err != nil {
		return nil, err
	}
	dsn := vars[c.dbKey]
	if dsn == "" {
		return nil, &migration.ConfigurationError{Reason: c.dbKey + " is not set"}
	}
	fsys, dir := c.project.Migrations()
	layout, err := migration.Discover(fsys, dir)
	if err != nil {
		return nil, err
	}
	return c.collect(ctx, layout, dsn), nil
}

// MigrationPrompt asks for confirmation before applying version to app. The
// current version is read fresh so the prompt never shows a stale value.
func (c *Controller) MigrationPrompt(ctx context.Context, app string, version int) (string, error) {
	vars, err := c.project.Env()
	if err != nil {
		return "", err
	}
	current, err := c.resolver.CurrentVersion(ctx, app, vars[c.dbKey])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Do you want to migrate from version `%d` to `%d`?", current, version), nil
}

// Kick schedules an asynchronous refresh; pending kicks coalesce.
func (c *Controller) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Start refreshes on every kick until ctx is done.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.kick:
				if err := c.Refresh(ctx); err != nil {
					slog.Debug("Refresh incomplete", "error", err)
				}
			}
		}
	}()
}

// Shutdown stops the running application.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.orch.Shutdown(ctx)
}
