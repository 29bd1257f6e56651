// Package db provides the Postgres pool, migrations and init-state persistence via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a pgx connection pool from the given database URL and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	// Init state is read once per channel handshake.
	config.MaxConns = 8
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies migrations not yet recorded in schema_migrations, in order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - failed to create schema_migrations: %w", logPrefix, err)
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%s - begin %s: %w", logPrefix, m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("%s - record %s: %w", logPrefix, m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%s - commit %s: %w", logPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied migration %s", logPrefix, m.Name))
		ran++
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete (%d applied, %d already present)", logPrefix, ran, len(migrations)-ran))
	return nil
}

// MigrationState lists which migration files have been applied.
type MigrationState struct {
	Applied []string
	Pending []string
}

// MigrationStatus compares the migration files against schema_migrations.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (*MigrationState, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'schema_migrations')`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	applied := map[string]bool{}
	if exists {
		applied, err = appliedMigrations(ctx, pool)
		if err != nil {
			return nil, err
		}
	}
	return splitMigrations(migrations, applied), nil
}

func splitMigrations(migrations []Migration, applied map[string]bool) *MigrationState {
	state := &MigrationState{}
	for _, m := range migrations {
		if applied[m.Name] {
			state.Applied = append(state.Applied, m.Name)
		} else {
			state.Pending = append(state.Pending, m.Name)
		}
	}
	return state
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name    TEXT PRIMARY KEY,
	applied TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read schema_migrations: %w", logPrefix, err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%s - scan schema_migrations: %w", logPrefix, err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
