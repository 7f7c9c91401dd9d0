package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
)

// Postgres probes the relational store with a pool-level ping.
func Postgres(pool *pgxpool.Pool) Checker {
	return Checker{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Broker probes the Redis-compatible broker.
func Broker(rdb redis.UniversalClient) Checker {
	return Checker{
		Name: "broker",
		Check: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Embeddings verifies the embedding backend is configured for the memory
// collection's vector size. The check is metadata-only; it never spends an
// embedding call.
func Embeddings(p embeddings.Provider) Checker {
	return Checker{
		Name: "embeddings",
		Check: func(_ context.Context) error {
			if got := p.Dimensions(); got != nvector.Dimensions {
				return fmt.Errorf("model %s produces %d-dim vectors, memory requires %d", p.ModelID(), got, nvector.Dimensions)
			}
			return nil
		},
	}
}
