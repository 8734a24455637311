package platform

import (
	"context"
	"fmt"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaPattern restricts schema names interpolated into raw DDL to safe
// identifiers, since CREATE SCHEMA takes no bind-parameter form.
var schemaPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// RunGlobalMigrations applies migrations from the global directory to the
// main pool — the platform registry, backup descriptors, and cluster peer
// checkpoint tables all live there.
func RunGlobalMigrations(databaseURL, migrationsDir string) error {
	return runMigrations(databaseURL, migrationsDir)
}

// RunPlatformMigrations brings a platform's schema up to date: it creates
// the schema if this is the platform's first run, then applies the
// platform migration template to it. Unlike RunGlobalMigrations, callers
// pass the main pool and a bare schema name rather than a pre-built
// search_path URL, because a newly onboarded platform has no schema for
// migrate.New to point at until this creates one.
func RunPlatformMigrations(ctx context.Context, mainPool *pgxpool.Pool, mainURL, schema, migrationsDir string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name %q: must match %s", schema, schemaPattern.String())
	}

	if _, err := mainPool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("creating schema %s: %w", schema, err)
	}

	schemaURL, err := withSearchPath(mainURL, schema)
	if err != nil {
		return fmt.Errorf("building platform database URL: %w", err)
	}

	return runMigrations(schemaURL, migrationsDir)
}

func runMigrations(databaseURL, migrationsDir string) error {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsDir),
		databaseURL,
	)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
