// Package schema reads the applied schema version from the application database.
//
// The database keeps one row per applied migration in a version table
// (default "schemas") with an integer "version" column. Only the highest
// version matters here.
package schema

import (
	"context"
	"fmt"
	"regexp"
)

// DefaultTable holds applied migration versions.
const DefaultTable = "schemas"

// Conn is one open database connection.
type Conn interface {
	// LatestVersion returns the highest applied version. ok is false when the
	// table has no rows (or only NULL versions).
	LatestVersion(ctx context.Context) (version int, ok bool, err error)
	Close(ctx context.Context) error
}

// Connector opens connections from a DSN.
type Connector interface {
	Connect(ctx context.Context, dsn string) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, dsn string) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context, dsn string) (Conn, error) { return f(ctx, dsn) }

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTable rejects table names that are not plain (optionally schema
// qualified) identifiers, since the name is interpolated into SQL.
func ValidateTable(table string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("invalid schema table name %q", table)
	}
	return nil
}

// LatestQuery is the single read issued per connection.
func LatestQuery(table string) string {
	return "SELECT version FROM " + table + " ORDER BY version DESC LIMIT 1"
}
