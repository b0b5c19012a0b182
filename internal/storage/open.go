package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store kinds accepted by Open
const (
	KindNone     = "none"
	KindJSON     = "json"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Options selects and configures a backend
type Options struct {
	Kind      string
	OutputDir string
	VideoName string

	// SQLitePath defaults to <OutputDir>/<VideoName>/lktrack.db
	SQLitePath string

	// PostgresDSN takes precedence over Postgres when set
	PostgresDSN string
	Postgres    PostgresConfig

	Logger *slog.Logger
}

// Open returns the backend named by opts.Kind. Postgres schemas are created
// on first use.
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Kind {
	case "", KindNone:
		return NewNopStorage(), nil
	case KindJSON:
		return NewJSONStorage(opts.OutputDir, opts.VideoName), nil
	case KindSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.OutputDir, opts.VideoName, "lktrack.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return NewSQLiteStorage(ctx, path, opts.Logger)
	case KindPostgres:
		dsn := opts.PostgresDSN
		if dsn == "" {
			dsn = PostgresConfigFromEnv(opts.Postgres).ConnString()
		}
		if err := InitSchema(ctx, dsn); err != nil {
			return nil, err
		}
		return NewPostgresStorage(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store %q", opts.Kind)
	}
}
