package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearNamespace deletes every init_state row in namespace. An empty namespace
// truncates the whole table. Schema is preserved.
func ClearNamespace(ctx context.Context, pool *pgxpool.Pool, namespace string) error {
	if namespace == "" {
		slog.Info(fmt.Sprintf("%s - Clearing all init state", clearLogPrefix))
		if _, err := pool.Exec(ctx, `TRUNCATE TABLE init_state`); err != nil {
			return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
		}
		return nil
	}

	tag, err := pool.Exec(ctx, `DELETE FROM init_state WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("%s - delete namespace %s failed: %w", clearLogPrefix, namespace, err)
	}
	slog.Info(fmt.Sprintf("%s - Cleared %d init state rows in %s", clearLogPrefix, tag.RowsAffected(), namespace))
	return nil
}
