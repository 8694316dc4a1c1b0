package kvstore

import "context"

// Backend is the raw transport under the adapter. Implementations report every
// failure wrapped in ErrStoreUnavailable; containment happens in Store.
type Backend interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HGetAllMany reads several hashes in one pipelined round trip. The result
	// is index-aligned with keys.
	HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error)
	// HReplace atomically replaces the whole hash at key.
	HReplace(ctx context.Context, key string, fields map[string]string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) (bool, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
}
