package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// The Postgres and Redis backends run the shared contract only when a server
// is provided through the environment.

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL not set")
	}

	runContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		store, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, DialTimeout: 5 * time.Second})
		require.NoError(t, err)
		_, err = store.pool.Exec(ctx, `TRUNCATE documents`)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	runContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		prefix := "pdfintake-test:" + uuid.NewString() + ":"
		store, err := NewRedisStore(ctx, RedisConfig{Addr: addr, Prefix: prefix})
		require.NoError(t, err)
		t.Cleanup(func() {
			keys, _ := store.rdb.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				store.rdb.Del(context.Background(), keys...)
			}
			store.Close()
		})
		return store
	})
}
