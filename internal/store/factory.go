package store

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NewStore creates a postgres-backed store when a database URL is
// configured, otherwise the embedded SQLite store at dbPath.
func NewStore(ctx context.Context, databaseURL, dbPath string, logger *zap.Logger) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewSQLiteStore(dbPath, logger)
	}
	return NewPostgresStore(ctx, databaseURL, logger)
}
