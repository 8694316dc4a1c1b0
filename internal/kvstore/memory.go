package kvstore

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and local runs without
// Redis. It never fails.
type MemoryBackend struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) HGetAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyFields(b.hashes[key]), nil
}

func (b *MemoryBackend) HGetAllMany(_ context.Context, keys []string) ([]map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		out[i] = copyFields(b.hashes[key])
	}
	return out, nil
}

func (b *MemoryBackend) HReplace(_ context.Context, key string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(fields) == 0 {
		delete(b.hashes, key)
		return nil
	}
	b.hashes[key] = copyFields(fields)
	return nil
}

func (b *MemoryBackend) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	current, _ := strconv.ParseInt(h[field], 10, 64)
	current += delta
	h[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hashes, key)
	delete(b.sets, key)
	return nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, isHash := b.hashes[key]
	_, isSet := b.sets[key]
	return isHash || isSet, nil
}

// Keys matches with path.Match, which agrees with Redis glob syntax for the
// "<partition>:*" patterns the adapter issues.
func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for key := range b.hashes {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range b.sets {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) SAdd(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (b *MemoryBackend) SRem(_ context.Context, key, member string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		return false, nil
	}
	if _, present := set[member]; !present {
		return false, nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(b.sets, key)
	}
	return true, nil
}

func (b *MemoryBackend) SIsMember(_ context.Context, key, member string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sets[key][member]
	return ok, nil
}

func (b *MemoryBackend) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	members := make([]string, 0, len(b.sets[key]))
	for m := range b.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func copyFields(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
