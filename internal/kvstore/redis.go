package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	platformstrings "bansync/pkg/platform/strings"
	"bansync/pkg/platform/sentinel"
)

const scanBatch = 200

// RedisBackend implements Backend on go-redis. Partitions share one logical
// database and are separated by key prefix.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing client. The client lifecycle is managed
// by the composition root.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", err)
	}
	return fields, nil
}

// HGetAllMany pipelines HGETALL for every key so a snapshot is read in a single
// pass instead of interleaving with concurrent writers key by key.
func (b *RedisBackend) HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := b.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("pipeline hgetall", err)
	}
	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

// HReplace deletes and rewrites the hash inside MULTI/EXEC so readers never see
// a merge of the old and new record.
func (b *RedisBackend) HReplace(ctx context.Context, key string, fields map[string]string) error {
	args := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(args) > 0 {
			pipe.HSet(ctx, key, args...)
		}
		return nil
	})
	if err != nil {
		return unavailable("hreplace", err)
	}
	return nil
}

func (b *RedisBackend) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := b.client.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, unavailable("hincrby", err)
	}
	return n, nil
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN. SCAN may yield a key more than once, so
// the result is deduplicated.
func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return platformstrings.Dedupe(keys), nil
}

func (b *RedisBackend) SAdd(ctx context.Context, key, member string) error {
	if err := b.client.SAdd(ctx, key, member).Err(); err != nil {
		return unavailable("sadd", err)
	}
	return nil
}

func (b *RedisBackend) SRem(ctx context.Context, key, member string) (bool, error) {
	n, err := b.client.SRem(ctx, key, member).Result()
	if err != nil {
		return false, unavailable("srem", err)
	}
	return n > 0, nil
}

func (b *RedisBackend) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, unavailable("sismember", err)
	}
	return ok, nil
}

func (b *RedisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("smembers", err)
	}
	return members, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, sentinel.ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
