// Package firestarter drives the build, release, run and migration steps of a
// node-on-fire project and presents them as a menu of named intents.
package firestarter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	cfg "github.com/loykin/firestarter/internal/config"
	"github.com/loykin/firestarter/internal/controller"
	"github.com/loykin/firestarter/internal/env"
	"github.com/loykin/firestarter/internal/intent"
	"github.com/loykin/firestarter/internal/logger"
	"github.com/loykin/firestarter/internal/menu"
	"github.com/loykin/firestarter/internal/metrics"
	"github.com/loykin/firestarter/internal/migration"
	"github.com/loykin/firestarter/internal/notify"
	"github.com/loykin/firestarter/internal/orchestrator"
	"github.com/loykin/firestarter/internal/process"
	"github.com/loykin/firestarter/internal/project"
	"github.com/loykin/firestarter/internal/schema"
	"github.com/loykin/firestarter/internal/schema/factory"
	iapi "github.com/loykin/firestarter/internal/server"
	"github.com/loykin/firestarter/internal/watch"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type State = orchestrator.State

type Snapshot = orchestrator.Snapshot

type Tree = menu.Tree

type View = controller.View

type AppMigrations = menu.AppMigrations

type Notification = notify.Notification

type Notifier = notify.Notifier

type Presenter = controller.Presenter

type PresenterFunc = controller.PresenterFunc

var (
	ErrBusy           = orchestrator.ErrBusy
	ErrAlreadyRunning = orchestrator.ErrAlreadyRunning
	ErrUnknownIntent  = intent.ErrUnknownIntent
	ErrNoRegistry     = intent.ErrNoRegistry
)

// LoadConfig reads a TOML configuration file; an empty path uses defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Options customize an App beyond its configuration.
type Options struct {
	// Presenter receives every rebuilt menu.
	Presenter Presenter
	// Notifier receives notifications in addition to the log and the buffer.
	Notifier Notifier
	// Spawner replaces the process supervisor.
	Spawner orchestrator.Spawner
	// Connector replaces the DSN based schema connector.
	Connector schema.Connector
}

// App wires the orchestrator, the migration resolver and the controller for
// one project.
type App struct {
	cfg      *Config
	project  *project.Project
	orch     *orchestrator.Orchestrator
	resolver *migration.Resolver
	registry *intent.Registry
	ctrl     *controller.Controller
	notes    *notify.Buffer

	mu      sync.Mutex
	watcher *watch.Watcher
	closers []io.Closer
}

// New builds an App. Nothing is spawned or read until Init.
func New(c *Config, opts Options) (*App, error) {
	if c == nil {
		var err error
		if c, err = cfg.Load(""); err != nil {
			return nil, err
		}
	}
	proj, err := project.New(c.ProjectOptions())
	if err != nil {
		return nil, err
	}
	a := &App{cfg: c, project: proj, registry: intent.NewRegistry(), notes: notify.NewBuffer(c.Notifications.BufferSize)}

	spawner := opts.Spawner
	var runOut io.Writer
	if spawner == nil {
		sup := process.NewSupervisor(proj.Root(), a.childEnv())
		var outs []io.Writer
		lc := c.LoggerConfig()
		stdout, stderr, _ := lc.ProcessWriters("run")
		if stdout != nil {
			outs = append(outs, stdout)
			a.closers = append(a.closers, stdout)
		}
		if stderr != nil {
			sup.Stderr = stderr
			a.closers = append(a.closers, stderr)
		}
		if c.Log.MirrorRun {
			lw := logger.NewLineWriter(nil, slog.LevelInfo, "source", "run")
			outs = append(outs, lw)
			a.closers = append(a.closers, lw)
		}
		if len(outs) > 0 {
			runOut = io.MultiWriter(outs...)
		}
		spawner = orchestrator.FromSupervisor(sup)
	}

	sinks := notify.Multi{notify.Log{}, a.notes}
	if opts.Notifier != nil {
		sinks = append(sinks, opts.Notifier)
	}
	a.orch = orchestrator.New(orchestrator.Options{
		Spawner:    spawner,
		Notifier:   sinks,
		Commands:   c.OrchestratorCommands(),
		RunOutput:  runOut,
		StopSignal: c.StopSignal(),
	})

	connector := opts.Connector
	if connector == nil {
		fc, err := factory.New(c.Schema.Table)
		if err != nil {
			return nil, err
		}
		connector = fc
	}
	a.resolver = migration.NewResolver(connector, a.orch)

	a.ctrl = controller.New(controller.Options{
		Project:        proj,
		Orchestrator:   a.orch,
		Resolver:       a.resolver,
		Commands:       a.registry,
		Presenter:      opts.Presenter,
		DatabaseURLKey: c.DatabaseURLKey,
		AppKey:         c.AppKey,
	})
	a.orch.SetOnChange(a.ctrl.Kick)
	return a, nil
}

// childEnv composes the environment of spawned commands.
func (a *App) childEnv() []string {
	e := env.New()
	if !a.cfg.UseOSEnv {
		e.Isolated()
	}
	e.SetAll(a.cfg.EnvVars())
	return e.Merge(nil)
}

// Init recognizes the project, registers the intents and renders the first menu.
func (a *App) Init(ctx context.Context) error { return a.ctrl.Init(ctx) }

// Start refreshes the menu on every change until ctx is done, watching the
// project files when enabled.
func (a *App) Start(ctx context.Context) error {
	a.ctrl.Start(ctx)
	if !a.cfg.Watch.Enabled {
		return nil
	}
	w, err := watch.New(watch.Options{
		Root:          a.project.Root(),
		EnvFile:       a.project.EnvPath(),
		MigrationsDir: a.project.MigrationsPath(),
		Debounce:      a.cfg.Watch.Debounce,
		OnChange:      a.ctrl.Kick,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		if errors.Is(err, watch.ErrNothingToWatch) {
			slog.Warn("Project files are not watched", "root", a.project.Root())
			return nil
		}
		return err
	}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()
	return nil
}

// Dispatch runs the intent name and blocks until it settles.
func (a *App) Dispatch(ctx context.Context, name string) error {
	return a.registry.Dispatch(ctx, name)
}

// Intents lists the registered intent names.
func (a *App) Intents() []string { return a.registry.Names() }

func (a *App) Snapshot() Snapshot { return a.orch.Snapshot() }

func (a *App) View() View { return a.ctrl.View() }

func (a *App) Refresh(ctx context.Context) error { return a.ctrl.Refresh(ctx) }

// Pending reads the pending migrations of every application fresh.
func (a *App) Pending(ctx context.Context) ([]AppMigrations, error) { return a.ctrl.Pending(ctx) }

// MigrationPrompt returns the confirmation question for a migration.
func (a *App) MigrationPrompt(ctx context.Context, app string, version int) (string, error) {
	return a.ctrl.MigrationPrompt(ctx, app, version)
}

// Notifications returns the buffered notifications newer than seq.
func (a *App) Notifications(seq uint64) []Notification { return a.notes.Since(seq) }

// Handler returns the HTTP API mounted under basePath. Asynchronous intents
// run under ctx.
func (a *App) Handler(ctx context.Context, basePath string) http.Handler {
	return iapi.NewRouter(a.routerOptions(ctx, basePath)).Handler()
}

// Serve starts the HTTP API on addr.
func (a *App) Serve(ctx context.Context, addr, basePath string) (*http.Server, error) {
	return iapi.NewServer(addr, a.routerOptions(ctx, basePath))
}

func (a *App) routerOptions(ctx context.Context, basePath string) iapi.Options {
	return iapi.Options{
		Controller:    a.ctrl,
		Orchestrator:  a.orch,
		Intents:       a.registry,
		Notifications: a.notes,
		BasePath:      basePath,
		Context:       ctx,
	}
}

// Shutdown stops the run process and releases log files and watches.
func (a *App) Shutdown(ctx context.Context) error {
	errs := []error{a.ctrl.Shutdown(ctx)}
	a.mu.Lock()
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
		a.watcher = nil
	}
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// RegisterMetrics registers the collectors with r (the default registerer when nil).
func RegisterMetrics(r prometheus.Registerer) error {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	return metrics.Register(r)
}

// MetricsHandler serves the registered metrics.
func MetricsHandler() http.Handler { return metrics.Handler() }
