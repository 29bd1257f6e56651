package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("db: not found")

// Repository provides access to the init_state table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetValue returns the value stored under namespace/key.
func (r *Repository) GetValue(ctx context.Context, namespace, key string) (*InitStateEntry, error) {
	slog.Debug(fmt.Sprintf("%s - GetValue namespace=%s key=%s", repoLogPrefix, namespace, key))

	row := r.pool.QueryRow(ctx,
		`SELECT namespace, key, value, modified
		 FROM init_state
		 WHERE namespace = $1 AND key = $2`, namespace, key)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	return entry, err
}

// ListNamespace returns every entry in namespace ordered by key.
func (r *Repository) ListNamespace(ctx context.Context, namespace string) ([]InitStateEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT namespace, key, value, modified
		 FROM init_state
		 WHERE namespace = $1
		 ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("%s - list %s: %w", repoLogPrefix, namespace, err)
	}
	defer rows.Close()

	var entries []InitStateEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// UpsertValue stores value under namespace/key, replacing any previous value.
func (r *Repository) UpsertValue(ctx context.Context, namespace, key string, value json.RawMessage) (*InitStateEntry, error) {
	slog.Info(fmt.Sprintf("%s - UpsertValue namespace=%s key=%s", repoLogPrefix, namespace, key))

	row := r.pool.QueryRow(ctx,
		`INSERT INTO init_state (namespace, key, value, modified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		   value = EXCLUDED.value,
		   modified = EXCLUDED.modified
		 RETURNING namespace, key, value, modified`,
		namespace, key, []byte(value), time.Now().UTC())

	return scanEntry(row)
}

// DeleteValue removes namespace/key. It reports whether a row existed.
func (r *Repository) DeleteValue(ctx context.Context, namespace, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM init_state WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return false, fmt.Errorf("%s - delete %s/%s: %w", repoLogPrefix, namespace, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanEntry(row pgx.Row) (*InitStateEntry, error) {
	var e InitStateEntry
	var value []byte
	if err := row.Scan(&e.Namespace, &e.Key, &value, &e.Modified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s - scan init_state: %w", repoLogPrefix, err)
	}
	e.Value = json.RawMessage(value)
	return &e, nil
}
