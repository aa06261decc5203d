package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/firestarter/internal/schema"
)

// Connector opens SQLite databases.
type Connector struct {
	table string
}

// New returns a connector reading from table (schema.DefaultTable when empty).
func New(table string) (*Connector, error) {
	if table == "" {
		table = schema.DefaultTable
	}
	if err := schema.ValidateTable(table); err != nil {
		return nil, err
	}
	return &Connector{table: table}, nil
}

// Connect opens the database and verifies it is reachable.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "file:/path/to/file.db"
//   - "/path/to/file.db" (without prefix)
func (c *Connector) Connect(ctx context.Context, dsn string) (schema.Conn, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection per resolver call
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Conn{db: db, table: c.table}, nil
}

// Conn wraps one database handle.
type Conn struct {
	db    *sql.DB
	table string
}

func (c *Conn) LatestVersion(ctx context.Context) (int, bool, error) {
	var v sql.NullInt64
	err := c.db.QueryRowContext(ctx, schema.LatestQuery(c.table)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

func (c *Conn) Close(context.Context) error {
	return c.db.Close()
}
