package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/firestarter"
	"github.com/loykin/firestarter/internal/intent"
)

const shutdownTimeout = 10 * time.Second

type command struct {
	global *GlobalFlags
	in     io.Reader
	out    io.Writer
}

// client resolves the daemon URL from the flag, then from the config file.
func (c *command) client(f APIFlags) *APIClient {
	apiURL := f.APIUrl
	if apiURL == "" {
		cfg, err := firestarter.LoadConfig(c.global.ConfigPath)
		if err != nil {
			slog.Debug("Using default daemon URL", "error", err)
		}
		apiURL = apiURLFromConfig(cfg)
	}
	return NewAPIClient(apiURL, f.APITimeout)
}

func (c *command) reachable(f APIFlags) (*APIClient, error) {
	api := c.client(f)
	if !api.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - please start it first with 'firestarter serve'", api.baseURL)
	}
	return api, nil
}

// Serve runs the daemon until SIGINT or SIGTERM.
func (c *command) Serve(f ServeFlags) error {
	cfg, err := firestarter.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.BasePath != "" {
		cfg.Server.BasePath = f.BasePath
	}
	if f.NoWatch {
		cfg.Watch.Enabled = false
	}
	if f.Metrics {
		cfg.Metrics.Enabled = true
	}
	slog.SetDefault(cfg.LoggerConfig().NewSlogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := firestarter.New(cfg, firestarter.Options{
		Presenter: firestarter.PresenterFunc(func(t firestarter.Tree) {
			slog.Debug("Menu rebuilt", "commands", len(t.Commands()))
		}),
	})
	if err != nil {
		return err
	}
	if err := app.Init(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := firestarter.RegisterMetrics(nil); err != nil {
			slog.Warn("Metrics already registered", "error", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", firestarter.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server stopped", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
		slog.Info("Metrics enabled", "addr", cfg.Metrics.Listen)
	}

	srv, err := app.Serve(ctx, cfg.Server.Listen, cfg.Server.BasePath)
	if err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}
	slog.Info("Firestarter daemon started", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "config", cfg.File())

	<-ctx.Done()
	slog.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := []error{srv.Shutdown(sctx)}
	if metricsSrv != nil {
		errs = append(errs, metricsSrv.Shutdown(sctx))
	}
	errs = append(errs, app.Shutdown(sctx))
	return errors.Join(errs...)
}

// Intent dispatches name through the daemon, asking before migrations.
func (c *command) Intent(name string, f IntentFlags) error {
	api, err := c.reachable(f.APIFlags)
	if err != nil {
		return err
	}
	res, err := api.Dispatch(name, f.Wait, f.Yes)
	var confirmErr *ConfirmRequiredError
	if errors.As(err, &confirmErr) {
		if !confirm(c.in, c.out, confirmErr.Prompt) {
			_, _ = fmt.Fprintln(c.out, "Aborted.")
			return nil
		}
		res, err = api.Dispatch(name, f.Wait, true)
	}
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) Status(f APIFlags) error {
	api, err := c.reachable(f)
	if err != nil {
		return err
	}
	res, err := api.Status()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) Menu(f APIFlags) error {
	api, err := c.reachable(f)
	if err != nil {
		return err
	}
	res, err := api.Menu()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) Migrations(f APIFlags) error {
	api, err := c.reachable(f)
	if err != nil {
		return err
	}
	res, err := api.Migrations()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) Intents(f APIFlags) error {
	api, err := c.reachable(f)
	if err != nil {
		return err
	}
	res, err := api.Intents()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c *command) Refresh(f APIFlags) error {
	api, err := c.reachable(f)
	if err != nil {
		return err
	}
	res, err := api.Refresh()
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// Notifications prints buffered notifications; with Follow it polls until
// interrupted.
func (c *command) Notifications(ctx context.Context, f NotificationsFlags) error {
	api, err := c.reachable(f.APIFlags)
	if err != nil {
		return err
	}
	since := f.Since
	interval := f.Interval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		res, err := api.Notifications(since)
		if err != nil {
			return err
		}
		if !f.Follow {
			printJSON(c.out, res)
			return nil
		}
		for _, n := range res.Notifications {
			printJSON(c.out, n)
		}
		if res.Last > since {
			since = res.Last
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// Exec runs one intent in-process without a daemon. When the intent leaves
// the application running, Exec waits until it exits or ctx is done.
func (c *command) Exec(ctx context.Context, name string, f ExecFlags) error {
	cfg, err := firestarter.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg.Watch.Enabled = false
	slog.SetDefault(cfg.LoggerConfig().NewSlogger())

	app, err := firestarter.New(cfg, firestarter.Options{})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Shutdown(sctx); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()
	if err := app.Init(ctx); err != nil {
		return err
	}

	if appName, version, ok := intent.ParseMigrate(name); ok && !f.Yes {
		prompt, err := app.MigrationPrompt(ctx, appName, version)
		if err != nil {
			return err
		}
		if !confirm(c.in, c.out, prompt) {
			_, _ = fmt.Fprintln(c.out, "Aborted.")
			return nil
		}
	}
	if err := app.Dispatch(ctx, name); err != nil {
		return err
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := app.Snapshot()
		if !s.Running && !s.Starting {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
