package fairness

import (
	"context"

	"github.com/parcelbroker/parcelbroker/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const indexKey = "parcelbroker:fairness:index"

type redisIndex struct {
	client *redis.Client
	cfg    *config.ParcelBroker
}

// NewRedisIndex returns an Index backed by a shared Redis counter with a
// TTL, so every process of a deployment rotates over the same sequence.
// INCR is atomic, which removes the read-then-increment race entirely.
func NewRedisIndex(client *redis.Client, cfg *config.ParcelBroker) Index {
	return &redisIndex{client: client, cfg: cfg}
}

func (r *redisIndex) NextIndex(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, indexKey)
	pipe.Expire(ctx, indexKey, r.cfg.Matching.FairnessIndexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "advancing fairness index")
	}

	// INCR starts at 1; the sequence of positions starts at 0.
	return int(uint64(incr.Val()-1) % uint64(n)), nil
}

func (r *redisIndex) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, indexKey).Err(); err != nil {
		return errors.Wrap(err, "resetting fairness index")
	}
	return nil
}
