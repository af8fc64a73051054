package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/db"
)

type Options struct {
	DatabaseURL string
	SQLitePath  string
	Production  bool
	Logger      *zap.Logger
}

// Backend is an AggregateStore that can also seed answers.
type Backend interface {
	AggregateStore
	Seeder
}

// Open picks the best configured backend: Postgres > SQLite > in-memory.
// In production the in-memory fallback is refused.
func Open(ctx context.Context, opts Options) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	switch {
	case opts.DatabaseURL != "":
		pool, err := db.Open(ctx, opts.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := ApplyMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("store backend selected", zap.String("backend", "postgres"))
		return NewPostgresStore(pool), nil
	case opts.SQLitePath != "":
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("store backend selected", zap.String("backend", "sqlite"), zap.String("path", opts.SQLitePath))
		return s, nil
	case opts.Production:
		return nil, errors.New("production requires DATABASE_URL or SQLITE_PATH; in-memory store is not allowed")
	default:
		log.Warn("store backend selected", zap.String("backend", "memory"))
		return NewInMemoryStore(), nil
	}
}
