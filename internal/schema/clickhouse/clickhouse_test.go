package clickhouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startClickHouse returns a DSN of a throwaway server, skipping without Docker.
func startClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword("secret"),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	})
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return "clickhouse://default:secret@" + host + ":" + port.Port() + "/default"
}

func TestClickHouseLatestVersion_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	dsn := startClickHouse(ctx, t)

	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	conn, err := c.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = conn.Close(ctx) }()
	raw := conn.(*Conn).conn

	if err := raw.Exec(ctx, `CREATE TABLE schemas (version UInt32) ENGINE = MergeTree() ORDER BY version`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	v, ok, err := conn.LatestVersion(ctx)
	if err != nil || ok || v != 0 {
		t.Fatalf("empty table: v=%d ok=%v err=%v", v, ok, err)
	}

	if err := raw.Exec(ctx, `INSERT INTO schemas (version) VALUES (4), (12), (7)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, ok, err = conn.LatestVersion(ctx)
	if err != nil || !ok || v != 12 {
		t.Fatalf("expected 12: v=%d ok=%v err=%v", v, ok, err)
	}
}

func TestConnectErrors(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Connect(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := c.Connect(context.Background(), "clickhouse://%zz"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

func TestNewValidatesTable(t *testing.T) {
	if _, err := New("versions; DROP TABLE x"); err == nil {
		t.Fatal("expected invalid table error")
	}
	c, err := New("analytics.schemas")
	if err != nil {
		t.Fatalf("qualified table: %v", err)
	}
	if q := LatestQuery(c.table); !strings.Contains(q, "FROM analytics.schemas") {
		t.Fatalf("unexpected query %q", q)
	}
}
