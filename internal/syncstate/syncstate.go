// Package syncstate records, per community, which blacklist fingerprint was
// last replicated there.
package syncstate

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"bansync/internal/kvstore"
)

const (
	fieldFingerprint = "fingerprint"
	fieldChannelID   = "channel_id"
	fieldCount       = "count"
	fieldSyncedAt    = "synced_at"
	fieldRequestedBy = "requested_by"
)

// Record is the sync provenance for one community. An empty Fingerprint means
// the community was never synced.
type Record struct {
	CommunityID           string
	Fingerprint           string
	NotificationChannelID string
	AppliedCount          int
	SyncedAt              time.Time
	RequestedBy           string
}

// Tracker persists Records in the sync partition.
type Tracker struct {
	kv *kvstore.Store
}

// New creates a tracker.
func New(kv *kvstore.Store) (*Tracker, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	return &Tracker{kv: kv}, nil
}

// IsSynced is true iff a record exists for the community and its fingerprint
// equals fp.
func (t *Tracker) IsSynced(ctx context.Context, communityID, fp string) bool {
	rec, ok := t.Details(ctx, communityID)
	return ok && rec.Fingerprint != "" && rec.Fingerprint == fp
}

// Record replaces the stored record for rec.CommunityID and reports whether
// the write landed.
func (t *Tracker) Record(ctx context.Context, rec Record) bool {
	fields := map[string]string{
		fieldFingerprint: rec.Fingerprint,
		fieldChannelID:   rec.NotificationChannelID,
		fieldCount:       strconv.Itoa(rec.AppliedCount),
		fieldRequestedBy: rec.RequestedBy,
	}
	if !rec.SyncedAt.IsZero() {
		fields[fieldSyncedAt] = rec.SyncedAt.UTC().Format(time.RFC3339)
	}
	return t.kv.Set(ctx, kvstore.PartitionSync, rec.CommunityID, fields)
}

// Details returns the stored record, if any.
func (t *Tracker) Details(ctx context.Context, communityID string) (Record, bool) {
	fields := t.kv.Get(ctx, kvstore.PartitionSync, communityID)
	if len(fields) == 0 {
		return Record{}, false
	}
	return fromFields(communityID, fields), true
}

// List returns every record sorted by community.
func (t *Tracker) List(ctx context.Context) []Record {
	all, err := t.kv.ScanAll(ctx, kvstore.PartitionSync)
	if err != nil {
		return nil
	}
	out := make([]Record, 0, len(all))
	for id, fields := range all {
		out = append(out, fromFields(id, fields))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommunityID < out[j].CommunityID })
	return out
}

func fromFields(communityID string, fields map[string]string) Record {
	count, _ := strconv.Atoi(fields[fieldCount])
	syncedAt, _ := time.Parse(time.RFC3339, fields[fieldSyncedAt])
	return Record{
		CommunityID:           communityID,
		Fingerprint:           fields[fieldFingerprint],
		NotificationChannelID: fields[fieldChannelID],
		AppliedCount:          count,
		SyncedAt:              syncedAt,
		RequestedBy:           fields[fieldRequestedBy],
	}
}
