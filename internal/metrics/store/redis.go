package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
)

const mgetChunk = 500

type redisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedis(client *redis.Client, retention time.Duration) metricsdomain.Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &redisStore{client: client, retention: retention}
}

// IncrBy bumps the bucket and refreshes the TTLs of the bucket and the
// dimension index in one round trip. INCRBY is atomic on the server.
func (s *redisStore) IncrBy(ctx context.Context, apiKey, dimension string, bucket time.Time, amount int64) error {
	key := bucketKey(apiKey, dimension, bucket)
	index := dimsKey(apiKey)

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, amount)
		pipe.Expire(ctx, key, s.retention)
		pipe.SAdd(ctx, index, dimension)
		pipe.Expire(ctx, index, s.retention)
		return nil
	})
	return err
}

func (s *redisStore) Sum(ctx context.Context, apiKey, dimension string, buckets []time.Time) (int64, error) {
	var total int64
	for start := 0; start < len(buckets); start += mgetChunk {
		end := min(start+mgetChunk, len(buckets))
		keys := make([]string, 0, end-start)
		for _, bucket := range buckets[start:end] {
			keys = append(keys, bucketKey(apiKey, dimension, bucket))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
		for _, value := range values {
			n, err := parseCount(value)
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func (s *redisStore) Dimensions(ctx context.Context, apiKey string) ([]string, error) {
	return s.client.SMembers(ctx, dimsKey(apiKey)).Result()
}

func parseCount(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse bucket value %q: %w", v, err)
		}
		return n, nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected bucket value type %T", value)
	}
}
