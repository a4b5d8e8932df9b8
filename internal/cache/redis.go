package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "queue:view:"

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) GetView(ctx context.Context, bucket string) (QueueView, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+bucket).Result()
	if err == redis.Nil {
		return QueueView{}, false, nil
	}
	if err != nil {
		return QueueView{}, false, fmt.Errorf("cache get %s: %w", bucket, err)
	}
	var view QueueView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		// A corrupt entry is a miss; the next write replaces it.
		return QueueView{}, false, fmt.Errorf("cache decode %s: %w", bucket, err)
	}
	return view, true, nil
}

func (r *Redis) SetView(ctx context.Context, bucket string, view QueueView, ttl time.Duration) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", bucket, err)
	}
	if err := r.client.Set(ctx, keyPrefix+bucket, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", bucket, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, bucketPrefix string) error {
	pattern := keyPrefix + bucketPrefix + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache del %s: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
