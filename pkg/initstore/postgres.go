package initstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/embedrpc/pkg/db"
)

const logPrefix = "initstore:postgres"

// PostgresStore keeps one namespace of init_state rows.
type PostgresStore struct {
	repo      *db.Repository
	namespace string
}

// NewPostgresStore creates a store over namespace.
func NewPostgresStore(pool *pgxpool.Pool, namespace string) *PostgresStore {
	return &PostgresStore{repo: db.NewRepository(pool), namespace: namespace}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	entry, err := s.repo.GetValue(ctx, s.namespace, key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%s - get %s: %w", logPrefix, key, err)
	}
	return entry.Value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	if _, err := s.repo.UpsertValue(ctx, s.namespace, key, raw); err != nil {
		return fmt.Errorf("%s - put %s: %w", logPrefix, key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.repo.DeleteValue(ctx, s.namespace, key); err != nil {
		return fmt.Errorf("%s - delete %s: %w", logPrefix, key, err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	entries, err := s.repo.ListNamespace(ctx, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("%s - snapshot %s: %w", logPrefix, s.namespace, err)
	}
	out := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		var v interface{}
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("%s - decode %s: %w", logPrefix, e.Key, err)
		}
		out[e.Key] = v
	}
	slog.Debug(fmt.Sprintf("%s - Snapshot of %s has %d keys", logPrefix, s.namespace, len(out)))
	return out, nil
}
