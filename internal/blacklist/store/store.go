package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bansync/internal/blacklist/models"
	"bansync/internal/kvstore"
	"bansync/pkg/platform/sentinel"
)

// Store is the blacklist partition view over the key-value adapter.
type Store struct {
	kv *kvstore.Store
}

// New creates a blacklist store.
func New(kv *kvstore.Store) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	return &Store{kv: kv}, nil
}

// TakeSnapshot reads the whole partition in one pass. An unreadable partition
// returns an error wrapping kvstore.ErrStoreUnavailable; an empty one returns
// an empty snapshot.
func (s *Store) TakeSnapshot(ctx context.Context) (Snapshot, error) {
	records, err := s.kv.ScanAll(ctx, kvstore.PartitionBlacklist)
	if err != nil {
		return nil, fmt.Errorf("read blacklist snapshot: %w", err)
	}
	snap := make(Snapshot, len(records))
	for id, fields := range records {
		snap[id] = models.EntryFromFields(id, fields)
	}
	return snap, nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, identity string) (models.Entry, error) {
	fields := s.kv.Get(ctx, kvstore.PartitionBlacklist, identity)
	if len(fields) == 0 {
		return models.Entry{}, fmt.Errorf("blacklist entry %s: %w", identity, sentinel.ErrNotFound)
	}
	return models.EntryFromFields(identity, fields), nil
}

// Exists reports whether identity is blacklisted.
func (s *Store) Exists(ctx context.Context, identity string) bool {
	return s.kv.Exists(ctx, kvstore.PartitionBlacklist, identity)
}

// Save writes the entry, replacing any previous one.
func (s *Store) Save(ctx context.Context, e models.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !s.kv.Set(ctx, kvstore.PartitionBlacklist, e.Identity, e.Fields()) {
		return fmt.Errorf("save blacklist entry %s: %w", e.Identity, sentinel.ErrUnavailable)
	}
	return nil
}

// Delete removes the entry. A missing entry returns sentinel.ErrNotFound.
func (s *Store) Delete(ctx context.Context, identity string) error {
	if !s.kv.Exists(ctx, kvstore.PartitionBlacklist, identity) {
		return fmt.Errorf("blacklist entry %s: %w", identity, sentinel.ErrNotFound)
	}
	s.kv.Delete(ctx, kvstore.PartitionBlacklist, identity)
	return nil
}

// List returns every entry in canonical order.
func (s *Store) List(ctx context.Context) ([]models.Entry, error) {
	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Entries(), nil
}

// SearchByName returns entries whose display name contains query,
// case-insensitively, sorted by identity.
func (s *Store) SearchByName(ctx context.Context, query string) []models.Entry {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	hits := s.kv.Search(ctx, kvstore.PartitionBlacklist, models.FieldUsername, query)
	out := make([]models.Entry, 0, len(hits))
	for id, fields := range hits {
		out = append(out, models.EntryFromFields(id, fields))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
