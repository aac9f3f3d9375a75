package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hackify:"

// readAttempts bounds the retry loop for idempotent reads against a
// transiently unreachable store.
const readAttempts = 3

// Redis is the shared Store. Every server process pointed at the same Redis
// instance observes the same state, which is what makes multi-process
// deployments possible. Each collection maps to one Redis hash.
type Redis struct {
	client redis.UniversalClient
}

var _ Store = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) hashKey(collection string) string {
	return keyPrefix + collection
}

func (r *Redis) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		value, err := r.client.HGet(ctx, r.hashKey(collection), key).Bytes()
		if err == nil {
			return value, nil
		}
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (r *Redis) Set(ctx context.Context, collection, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(collection), key, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetMulti wraps the writes in MULTI/EXEC, so a reader on another process
// observes either all entries updated or none.
func (r *Redis) SetMulti(ctx context.Context, entries ...Entry) error {
	pipe := r.client.TxPipeline()
	for _, e := range entries {
		pipe.HSet(ctx, r.hashKey(e.Collection), e.Key, e.Value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, collection, key string) error {
	if err := r.client.HDel(ctx, r.hashKey(collection), key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, collection string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// ResetPrefix enumerates the matching fields, then removes them with a
// single HDEL. The delete is one Redis command, so a concurrent reader
// never observes a partially cleared prefix.
func (r *Redis) ResetPrefix(ctx context.Context, collection, prefix string) error {
	hash := r.hashKey(collection)
	keys, err := r.client.HKeys(ctx, hash).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	matched := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, hash, matched...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
