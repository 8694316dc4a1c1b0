package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

// =============================================================================
// Store Test Suite
// =============================================================================
// Justification for unit tests: the adapter owns failure containment, key
// partitioning and cache coherence. These are invariants every caller relies
// on and are cheaper to pin here than through the sync engine.

type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	backend *MemoryBackend
	store   *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = NewMemoryBackend()
	store, err := New(s.backend, WithRecordCache(PartitionBlacklist, 16))
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) TestNewRequiresBackend() {
	_, err := New(nil)
	s.Require().Error(err)
}

func (s *StoreSuite) TestRecordRoundTrip() {
	s.Run("missing key reads as empty", func() {
		got := s.store.Get(s.ctx, PartitionBlacklist, "nobody")
		s.NotNil(got)
		s.Empty(got)
		s.False(s.store.Exists(s.ctx, PartitionBlacklist, "nobody"))
	})

	s.Run("set replaces the whole record", func() {
		s.store.Set(s.ctx, PartitionBlacklist, "1", map[string]string{"username": "a", "reason": "spam"})
		s.store.Set(s.ctx, PartitionBlacklist, "1", map[string]string{"username": "b"})

		got := s.store.Get(s.ctx, PartitionBlacklist, "1")
		s.Equal(map[string]string{"username": "b"}, got)
		s.True(s.store.Exists(s.ctx, PartitionBlacklist, "1"))
	})

	s.Run("delete removes the record", func() {
		s.store.Delete(s.ctx, PartitionBlacklist, "1")
		s.Empty(s.store.Get(s.ctx, PartitionBlacklist, "1"))
	})
}

func (s *StoreSuite) TestPartitionsAreIsolated() {
	s.store.Set(s.ctx, PartitionBlacklist, "42", map[string]string{"username": "x"})
	s.store.Set(s.ctx, PartitionSync, "42", map[string]string{"fingerprint": "f"})

	s.Equal([]string{"42"}, s.store.ListKeys(s.ctx, PartitionBlacklist))
	s.Equal("x", s.store.Get(s.ctx, PartitionBlacklist, "42")["username"])
	s.Equal("f", s.store.Get(s.ctx, PartitionSync, "42")["fingerprint"])
	s.Empty(s.store.ListKeys(s.ctx, PartitionWarnings))
}

func (s *StoreSuite) TestScanAll() {
	s.Run("empty partition is an empty map, not an error", func() {
		all, err := s.store.ScanAll(s.ctx, PartitionBlacklist)
		s.Require().NoError(err)
		s.NotNil(all)
		s.Empty(all)
	})

	s.Run("returns every record keyed without prefix", func() {
		s.store.Set(s.ctx, PartitionBlacklist, "1", map[string]string{"username": "one"})
		s.store.Set(s.ctx, PartitionBlacklist, "2", map[string]string{"username": "two"})

		all, err := s.store.ScanAll(s.ctx, PartitionBlacklist)
		s.Require().NoError(err)
		s.Len(all, 2)
		s.Equal("one", all["1"]["username"])
		s.Equal("two", all["2"]["username"])
	})
}

func (s *StoreSuite) TestSearchIsCaseInsensitiveSubstring() {
	s.store.Set(s.ctx, PartitionBlacklist, "1", map[string]string{"username": "SpamBot"})
	s.store.Set(s.ctx, PartitionBlacklist, "2", map[string]string{"username": "friendly"})

	hits := s.store.Search(s.ctx, PartitionBlacklist, "username", "spam")
	s.Len(hits, 1)
	s.Contains(hits, "1")
}

func (s *StoreSuite) TestSetMembership() {
	s.True(s.store.AddMember(s.ctx, PartitionWhitelist, "members", "7"))
	s.True(s.store.AddMember(s.ctx, PartitionWhitelist, "members", "3"))
	s.True(s.store.IsMember(s.ctx, PartitionWhitelist, "members", "7"))
	s.Equal([]string{"3", "7"}, s.store.Members(s.ctx, PartitionWhitelist, "members"))

	s.True(s.store.RemoveMember(s.ctx, PartitionWhitelist, "members", "7"))
	s.False(s.store.RemoveMember(s.ctx, PartitionWhitelist, "members", "7"))
	s.False(s.store.IsMember(s.ctx, PartitionWhitelist, "members", "7"))
}

func (s *StoreSuite) TestIncrField() {
	n, ok := s.store.IncrField(s.ctx, PartitionWarnings, "g:u", "warns", 1)
	s.True(ok)
	s.EqualValues(1, n)
	n, ok = s.store.IncrField(s.ctx, PartitionWarnings, "g:u", "warns", 2)
	s.True(ok)
	s.EqualValues(3, n)
	s.Equal("3", s.store.Get(s.ctx, PartitionWarnings, "g:u")["warns"])
}

func (s *StoreSuite) TestCache() {
	s.Run("read after write observes the write", func() {
		s.store.Set(s.ctx, PartitionBlacklist, "9", map[string]string{"reason": "old"})
		s.Equal("old", s.store.Get(s.ctx, PartitionBlacklist, "9")["reason"])

		s.store.Set(s.ctx, PartitionBlacklist, "9", map[string]string{"reason": "new"})
		s.Equal("new", s.store.Get(s.ctx, PartitionBlacklist, "9")["reason"])

		s.store.Delete(s.ctx, PartitionBlacklist, "9")
		s.Empty(s.store.Get(s.ctx, PartitionBlacklist, "9"))
	})

	s.Run("callers cannot mutate cached records", func() {
		s.store.Set(s.ctx, PartitionBlacklist, "10", map[string]string{"reason": "kept"})
		got := s.store.Get(s.ctx, PartitionBlacklist, "10")
		got["reason"] = "mutated"
		s.Equal("kept", s.store.Get(s.ctx, PartitionBlacklist, "10")["reason"])
	})

	s.Run("stale fill after invalidation is discarded", func() {
		cache, err := newRecordCache(4)
		s.Require().NoError(err)
		epoch := cache.begin()
		cache.invalidate("k")
		cache.fill(epoch, "k", map[string]string{"reason": "stale"})
		_, ok := cache.get("k")
		s.False(ok)
	})
}

func (s *StoreSuite) TestConcurrentWritersAndReaders() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.store.Set(s.ctx, PartitionBlacklist, "hot", map[string]string{"n": fmt.Sprint(i)})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.store.Get(s.ctx, PartitionBlacklist, "hot")
		}()
	}
	wg.Wait()

	final := s.backend.hashes[PartitionBlacklist.key("hot")]["n"]
	s.Equal(final, s.store.Get(s.ctx, PartitionBlacklist, "hot")["n"])
}

// =============================================================================
// Failure containment
// =============================================================================

type failingBackend struct {
	*MemoryBackend
	err error
}

func (f failingBackend) HGetAll(context.Context, string) (map[string]string, error) {
	return nil, f.err
}

func (f failingBackend) HGetAllMany(context.Context, []string) ([]map[string]string, error) {
	return nil, f.err
}

func (f failingBackend) HReplace(context.Context, string, map[string]string) error { return f.err }
func (f failingBackend) Del(context.Context, string) error                          { return f.err }
func (f failingBackend) Keys(context.Context, string) ([]string, error)             { return nil, f.err }
func (f failingBackend) Exists(context.Context, string) (bool, error)               { return false, f.err }
func (f failingBackend) SIsMember(context.Context, string, string) (bool, error)    { return false, f.err }
func (f failingBackend) SMembers(context.Context, string) ([]string, error)         { return nil, f.err }
func (f failingBackend) SAdd(context.Context, string, string) error                 { return f.err }

func (f failingBackend) HIncrBy(context.Context, string, string, int64) (int64, error) {
	return 0, f.err
}

func TestStoreContainsBackendFailures(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	backendErr := fmt.Errorf("dial: %w", ErrStoreUnavailable)
	store, err := New(failingBackend{MemoryBackend: NewMemoryBackend(), err: backendErr}, WithMetrics(metrics))
	if err != nil {
		t.Fatal(err)
	}

	if got := store.Get(ctx, PartitionBlacklist, "1"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty record, got %v", got)
	}
	if store.Set(ctx, PartitionBlacklist, "1", map[string]string{"a": "b"}) {
		t.Fatal("set must report failure")
	}
	store.Delete(ctx, PartitionBlacklist, "1")
	if store.Exists(ctx, PartitionBlacklist, "1") {
		t.Fatal("exists must report false on failure")
	}
	if keys := store.ListKeys(ctx, PartitionBlacklist); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
	if store.IsMember(ctx, PartitionWhitelist, "members", "1") {
		t.Fatal("membership must report false on failure")
	}
	if ok, err := store.CheckMember(ctx, PartitionWhitelist, "members", "1"); ok || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("check member must surface the failure, got %v, %v", ok, err)
	}
	if _, ok := store.IncrField(ctx, PartitionWarnings, "k", "warns", 1); ok {
		t.Fatal("incr must report failure")
	}

	all, err := store.ScanAll(ctx, PartitionBlacklist)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("scan must surface the failure, got %v", err)
	}
	if all != nil {
		t.Fatalf("expected nil snapshot on failure, got %v", all)
	}

	if got := testutil.ToFloat64(metrics.Errors.WithLabelValues("blacklist", "get")); got != 1 {
		t.Fatalf("expected one contained get failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Errors.WithLabelValues("blacklist", "scan_all")); got != 1 {
		t.Fatalf("expected one contained scan failure, got %v", got)
	}
}
