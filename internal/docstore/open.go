package docstore

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendMemory   = "memory"
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend  string
	DuckPath string
	Duck     DuckOptions
	Postgres PostgresConfig
	Redis    RedisConfig
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendDuckDB, "":
		return NewDuckStore(opts.DuckPath, opts.Duck)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.Postgres)
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
