package syncstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bansync/internal/kvstore"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	kv, err := kvstore.New(kvstore.NewMemoryBackend())
	require.NoError(t, err)
	tr, err := New(kv)
	require.NoError(t, err)
	return tr
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown community is not synced", func(t *testing.T) {
		tr := newTracker(t)
		assert.False(t, tr.IsSynced(ctx, "g1", "fp"))
		_, ok := tr.Details(ctx, "g1")
		assert.False(t, ok)
	})

	t.Run("record then details round trips", func(t *testing.T) {
		tr := newTracker(t)
		rec := Record{CommunityID: "g1", Fingerprint: "fp", NotificationChannelID: "c1", AppliedCount: 3, SyncedAt: at, RequestedBy: "u1"}
		require.True(t, tr.Record(ctx, rec))

		got, ok := tr.Details(ctx, "g1")
		require.True(t, ok)
		assert.Equal(t, rec, got)
		assert.True(t, tr.IsSynced(ctx, "g1", "fp"))
		assert.False(t, tr.IsSynced(ctx, "g1", "other"))
	})

	t.Run("record overwrites fully", func(t *testing.T) {
		tr := newTracker(t)
		tr.Record(ctx, Record{CommunityID: "g1", Fingerprint: "a", NotificationChannelID: "c1", AppliedCount: 5, RequestedBy: "u1"})
		tr.Record(ctx, Record{CommunityID: "g1", Fingerprint: "b", AppliedCount: 1})

		got, ok := tr.Details(ctx, "g1")
		require.True(t, ok)
		assert.Equal(t, "b", got.Fingerprint)
		assert.Empty(t, got.NotificationChannelID)
		assert.Empty(t, got.RequestedBy)
		assert.Equal(t, 1, got.AppliedCount)
	})

	t.Run("list is sorted by community", func(t *testing.T) {
		tr := newTracker(t)
		tr.Record(ctx, Record{CommunityID: "g2", Fingerprint: "x"})
		tr.Record(ctx, Record{CommunityID: "g1", Fingerprint: "y"})
		list := tr.List(ctx)
		require.Len(t, list, 2)
		assert.Equal(t, "g1", list[0].CommunityID)
	})
}

type failingWrites struct {
	*kvstore.MemoryBackend
}

func (failingWrites) HReplace(context.Context, string, map[string]string) error {
	return errors.New("connection reset")
}

func TestRecordReportsFailedWrite(t *testing.T) {
	ctx := context.Background()
	kv, err := kvstore.New(failingWrites{kvstore.NewMemoryBackend()})
	require.NoError(t, err)
	tr, err := New(kv)
	require.NoError(t, err)

	assert.False(t, tr.Record(ctx, Record{CommunityID: "g1", Fingerprint: "fp"}))
	assert.False(t, tr.IsSynced(ctx, "g1", "fp"))
}
