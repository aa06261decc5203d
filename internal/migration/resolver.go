package migration

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/firestarter/internal/metrics"
	"github.com/loykin/firestarter/internal/schema"
)

// Migrator applies one migration version; the orchestrator implements it.
type Migrator interface {
	Migrate(app string, version int) error
}

// Resolver reconciles the database schema version with scripts on disk.
type Resolver struct {
	connector schema.Connector
	migrator  Migrator
}

func NewResolver(connector schema.Connector, migrator Migrator) *Resolver {
	return &Resolver{connector: connector, migrator: migrator}
}

// CurrentVersion opens one connection, reads the highest applied version and
// closes the connection again on every path. An empty table yields 0.
func (r *Resolver) CurrentVersion(ctx context.Context, app, dsn string) (int, error) {
	if strings.TrimSpace(dsn) == "" {
		return 0, &ConfigurationError{Reason: "no database configured for " + app}
	}
	conn, err := r.connector.Connect(ctx, dsn)
	if err != nil {
		return 0, &ConnectionError{App: app, Err: err}
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil {
			slog.Warn("Failed to close schema connection", "app", app, "error", cerr)
		}
	}()

	v, ok, err := conn.LatestVersion(ctx)
	if err != nil {
		return 0, &ConnectionError{App: app, Err: err}
	}
	if !ok {
		v = 0
	}
	metrics.SetSchemaVersion(app, v)
	return v, nil
}

// Pending fetches the current version and lists the newer scripts.
func (r *Resolver) Pending(ctx context.Context, app, dsn string, names []string) (int, []File, error) {
	current, err := r.CurrentVersion(ctx, app, dsn)
	if err != nil {
		return 0, nil, err
	}
	files := ListPending(app, names, current)
	metrics.SetPendingMigrations(app, len(files))
	return current, files, nil
}

// Apply runs the migrate command for version. Re-applying a version is the
// command's concern.
func (r *Resolver) Apply(app string, version int) error {
	return r.migrator.Migrate(app, version)
}
