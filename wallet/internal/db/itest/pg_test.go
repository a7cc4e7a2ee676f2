//go:build itest && test_db_postgres

package itest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmuralov/particl-core/wallet/internal/db"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage = "postgres:18-alpine"

	// pgStartTimeout includes pulling the image.
	pgStartTimeout = 2 * time.Minute
	pgStopTimeout  = time.Minute

	// pgMaxNameLen is the identifier limit of postgres.
	pgMaxNameLen = 63
)

var (
	// One server hosts every test, each in its own database.
	pgServer     *postgres.PostgresContainer
	pgServerErr  error
	pgServerOnce sync.Once

	pgNameChars = regexp.MustCompile(`[^a-z0-9_]`)
)

func TestMain(m *testing.M) {
	code := m.Run()

	if pgServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgStopTimeout,
		)
		if err := pgServer.Terminate(ctx); err != nil {
			fmt.Printf("stop postgres: %v\n", err)
		}
		cancel()
	}

	os.Exit(code)
}

// startPostgres starts the shared server on first use.
func startPostgres(ctx context.Context) (*postgres.PostgresContainer,
	error) {

	pgServerOnce.Do(func() {
		pgServer, pgServerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage(pgImage),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgStartTimeout, wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgServer, pgServerErr
}

// anonIndexDBName derives the database of a test from its name.
func anonIndexDBName(t *testing.T) string {
	name := "anon_" + pgNameChars.ReplaceAllString(
		strings.ToLower(t.Name()), "_",
	)
	if len(name) > pgMaxNameLen {
		name = name[:pgMaxNameLen]
	}

	return name
}

// NewPostgresDB opens a fresh database with the anon index schema.
func NewPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := t.Context()

	server, err := startPostgres(ctx)
	require.NoError(t, err, "start postgres")

	connStr, err := server.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	admin, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	name := anonIndexDBName(t)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err, "create database %s", name)

	conn, err := sql.Open(
		"pgx", strings.Replace(connStr, "/postgres?", "/"+name+"?", 1),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.ApplyPostgresMigrations(conn))

	return conn
}

// NewTestIndex returns an anon index in a fresh PostgreSQL database.
func NewTestIndex(t *testing.T) *db.AnonIndex {
	t.Helper()

	idx, err := db.NewPostgresAnonIndex(NewPostgresDB(t))
	require.NoError(t, err, "failed to create anon index")

	return idx
}

// TestPostgresMigrationsRerun checks that migrating a populated index again
// changes nothing.
func TestPostgresMigrationsRerun(t *testing.T) {
	t.Parallel()

	conn := NewPostgresDB(t)
	idx, err := db.NewPostgresAnonIndex(conn)
	require.NoError(t, err)
	outs := InsertFixtures(t, idx, 3)

	require.NoError(t, db.ApplyPostgresMigrations(conn))

	var version int64
	var dirty bool
	err = conn.QueryRowContext(
		t.Context(), "SELECT version, dirty FROM schema_migrations",
	).Scan(&version, &dirty)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
	require.False(t, dirty)

	for _, want := range outs {
		got, err := idx.FetchByIndex(t.Context(), want.Index)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestPostgresAnonOutputsSchema checks the column types and indexes the
// queries of the index rely on.
func TestPostgresAnonOutputsSchema(t *testing.T) {
	t.Parallel()

	conn := NewPostgresDB(t)
	ctx := t.Context()

	rows, err := conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = 'anon_outputs'`)
	require.NoError(t, err)
	defer rows.Close()

	type column struct {
		dataType string
		nullable string
	}
	columns := make(map[string]column)
	for rows.Next() {
		var name string
		var col column
		require.NoError(t, rows.Scan(&name, &col.dataType, &col.nullable))
		columns[name] = col
	}
	require.NoError(t, rows.Err())

	require.Equal(t, map[string]column{
		"idx":         {"bigint", "NO"},
		"pub_key":     {"bytea", "NO"},
		"commitment":  {"bytea", "NO"},
		"tx_hash":     {"bytea", "NO"},
		"out_index":   {"bigint", "NO"},
		"height":      {"bigint", "NO"},
		"blacklisted": {"boolean", "NO"},
	}, columns)

	tests := []struct {
		name    string
		index   string
		wantDef string
	}{
		{"height lookups", "anon_outputs_height_idx", "(height)"},
		{"key lookups", "anon_outputs_pub_key_key", "UNIQUE"},
		{"dense indexes", "anon_outputs_pkey", "(idx)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var def string
			err := conn.QueryRowContext(ctx, `
				SELECT indexdef FROM pg_indexes
				WHERE tablename = 'anon_outputs'
				AND indexname = $1`, tc.index,
			).Scan(&def)
			require.NoError(t, err, "index %s", tc.index)
			require.Contains(t, def, tc.wantDef)
		})
	}
}
