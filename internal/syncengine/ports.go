package syncengine

import (
	"context"

	"bansync/internal/blacklist/store"
	"bansync/internal/syncstate"
)

// SnapshotReader reads the canonical blacklist.
type SnapshotReader interface {
	TakeSnapshot(ctx context.Context) (store.Snapshot, error)
}

// Tracker persists per-community sync provenance.
type Tracker interface {
	IsSynced(ctx context.Context, communityID, fingerprint string) bool
	Details(ctx context.Context, communityID string) (syncstate.Record, bool)
	Record(ctx context.Context, rec syncstate.Record) bool
}

// Exemptions answers whitelist membership. Contains gates operators and may
// fail closed; IsExempt guards bans and returns store failures.
type Exemptions interface {
	Contains(ctx context.Context, identity string) bool
	IsExempt(ctx context.Context, identity string) (bool, error)
}
