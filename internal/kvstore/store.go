package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Store is the containment adapter over a Backend. Reads that fail come back
// empty, writes that fail become no-ops, and every failure is logged and
// counted. ScanAll is the exception: it also returns the error so a snapshot
// can tell "empty" from "unreadable".
type Store struct {
	backend   Backend
	logger    *slog.Logger
	metrics   *Metrics
	opTimeout time.Duration
	caches    map[Partition]*recordCache
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger used for contained failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the store metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) error {
		s.metrics = m
		return nil
	}
}

// WithOpTimeout bounds every backend call. Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) error {
		s.opTimeout = d
		return nil
	}
}

// WithRecordCache enables a bounded record cache for one partition.
func WithRecordCache(p Partition, size int) Option {
	return func(s *Store) error {
		if size <= 0 {
			return nil
		}
		c, err := newRecordCache(size)
		if err != nil {
			return fmt.Errorf("record cache for %s: %w", p, err)
		}
		s.caches[p] = c
		return nil
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("kvstore backend is required")
	}
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		caches:  make(map[Partition]*recordCache),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the record at key, or an empty map when it is absent or the
// backend failed.
func (s *Store) Get(ctx context.Context, p Partition, key string) map[string]string {
	cache := s.caches[p]
	if cache != nil {
		if fields, ok := cache.get(key); ok {
			s.metrics.cacheHit(p)
			return fields
		}
		s.metrics.cacheMiss(p)
	}

	var epoch uint64
	if cache != nil {
		epoch = cache.begin()
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	fields, err := s.backend.HGetAll(ctx, p.key(key))
	if err != nil {
		s.contain(ctx, p, "get", key, err)
		return map[string]string{}
	}
	if cache != nil && len(fields) > 0 {
		cache.fill(epoch, key, fields)
	}
	return fields
}

// Set replaces the record at key with fields. An empty fields map deletes it.
// It reports whether the write reached the backend.
func (s *Store) Set(ctx context.Context, p Partition, key string, fields map[string]string) bool {
	if cache := s.caches[p]; cache != nil {
		defer cache.invalidate(key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.backend.HReplace(ctx, p.key(key), fields); err != nil {
		s.contain(ctx, p, "set", key, err)
		return false
	}
	return true
}

// Delete removes the record or set at key.
func (s *Store) Delete(ctx context.Context, p Partition, key string) {
	if cache := s.caches[p]; cache != nil {
		defer cache.invalidate(key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.backend.Del(ctx, p.key(key)); err != nil {
		s.contain(ctx, p, "delete", key, err)
	}
}

// Exists reports whether key is present. Failures report false.
func (s *Store) Exists(ctx context.Context, p Partition, key string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.backend.Exists(ctx, p.key(key))
	if err != nil {
		s.contain(ctx, p, "exists", key, err)
		return false
	}
	return ok
}

// ListKeys returns every key in the partition, sorted.
func (s *Store) ListKeys(ctx context.Context, p Partition) []string {
	keys, err := s.listKeys(ctx, p)
	if err != nil {
		s.contain(ctx, p, "list_keys", "", err)
		return nil
	}
	return keys
}

func (s *Store) listKeys(ctx context.Context, p Partition) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	full, err := s.backend.Keys(ctx, p.pattern())
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, p.strip(k))
	}
	sort.Strings(keys)
	return keys, nil
}

// ScanAll reads every record in the partition. The error is logged and counted
// like any other failure, and is also returned so the caller can abort instead
// of treating an unreadable partition as empty.
func (s *Store) ScanAll(ctx context.Context, p Partition) (map[string]map[string]string, error) {
	keys, err := s.listKeys(ctx, p)
	if err != nil {
		s.contain(ctx, p, "scan_all", "", err)
		return nil, err
	}
	out := make(map[string]map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.key(k)
	}
	rctx, cancel := s.bound(ctx)
	defer cancel()
	records, err := s.backend.HGetAllMany(rctx, full)
	if err != nil {
		s.contain(ctx, p, "scan_all", "", err)
		return nil, err
	}
	for i, fields := range records {
		// a key deleted between SCAN and HGETALL reads as empty
		if len(fields) == 0 {
			continue
		}
		out[keys[i]] = fields
	}
	return out, nil
}

// Search returns records whose field contains pattern, case-insensitively.
func (s *Store) Search(ctx context.Context, p Partition, field, pattern string) map[string]map[string]string {
	all, err := s.ScanAll(ctx, p)
	if err != nil {
		return map[string]map[string]string{}
	}
	needle := strings.ToLower(pattern)
	out := make(map[string]map[string]string)
	for key, fields := range all {
		if strings.Contains(strings.ToLower(fields[field]), needle) {
			out[key] = fields
		}
	}
	return out
}

// IncrField atomically adds delta to a numeric field and returns the new value.
// On failure it returns 0 and ok=false.
func (s *Store) IncrField(ctx context.Context, p Partition, key, field string, delta int64) (int64, bool) {
	if cache := s.caches[p]; cache != nil {
		defer cache.invalidate(key)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.backend.HIncrBy(ctx, p.key(key), field, delta)
	if err != nil {
		s.contain(ctx, p, "incr", key, err)
		return 0, false
	}
	return n, true
}

// AddMember adds member to the set at key.
func (s *Store) AddMember(ctx context.Context, p Partition, key, member string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.backend.SAdd(ctx, p.key(key), member); err != nil {
		s.contain(ctx, p, "add_member", key, err)
		return false
	}
	return true
}

// RemoveMember removes member and reports whether it was present.
func (s *Store) RemoveMember(ctx context.Context, p Partition, key, member string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	removed, err := s.backend.SRem(ctx, p.key(key), member)
	if err != nil {
		s.contain(ctx, p, "remove_member", key, err)
		return false
	}
	return removed
}

// IsMember reports set membership. Failures report false.
func (s *Store) IsMember(ctx context.Context, p Partition, key, member string) bool {
	ok, err := s.CheckMember(ctx, p, key, member)
	return ok && err == nil
}

// CheckMember reports set membership like IsMember, but also returns the
// backend failure so callers that must not read "unknown" as "absent" can
// stop.
func (s *Store) CheckMember(ctx context.Context, p Partition, key, member string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.backend.SIsMember(ctx, p.key(key), member)
	if err != nil {
		s.contain(ctx, p, "is_member", key, err)
		return false, err
	}
	return ok, nil
}

// Members lists the set at key, sorted.
func (s *Store) Members(ctx context.Context, p Partition, key string) []string {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	members, err := s.backend.SMembers(ctx, p.key(key))
	if err != nil {
		s.contain(ctx, p, "members", key, err)
		return nil
	}
	sort.Strings(members)
	return members
}

// PurgeCache drops every cached record.
func (s *Store) PurgeCache() {
	for _, c := range s.caches {
		c.purge()
	}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) contain(ctx context.Context, p Partition, op, key string, err error) {
	s.metrics.incError(p, op)
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "store operation failed",
		"partition", string(p),
		"op", op,
		"key", key,
		"error", err,
	)
}
