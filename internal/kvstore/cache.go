package kvstore

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recordCache is a bounded read-through cache for one partition. Writes
// invalidate synchronously under the same lock that guards fills, and an epoch
// counter discards fills that raced with an invalidation, so a read that
// follows a completed write never observes the pre-write record.
type recordCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, map[string]string]
	epoch uint64
}

func newRecordCache(size int) (*recordCache, error) {
	c, err := lru.New[string, map[string]string](size)
	if err != nil {
		return nil, err
	}
	return &recordCache{lru: c}, nil
}

func (c *recordCache) get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return copyFields(fields), true
}

// begin returns the epoch a fill must still match when it lands.
func (c *recordCache) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *recordCache) fill(epoch uint64, key string, fields map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.lru.Add(key, copyFields(fields))
}

func (c *recordCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lru.Remove(key)
}

func (c *recordCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lru.Purge()
}
