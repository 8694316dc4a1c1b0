// Package whitelist manages the identities that are exempt from ban
// replication and allowed to operate the bot.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bansync/internal/kvstore"
	"bansync/pkg/platform/sentinel"
)

const membersKey = "members"

// Whitelist is the exemption set. The force-override identity is always an
// implicit member, is never stored, and is the only identity that may mutate
// the set.
type Whitelist struct {
	kv         *kvstore.Store
	overrideID string
	logger     *slog.Logger
}

// Option configures a Whitelist.
type Option func(*Whitelist)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Whitelist) {
		w.logger = logger
	}
}

// New creates a whitelist over kv.
func New(kv *kvstore.Store, overrideID string, opts ...Option) (*Whitelist, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if overrideID == "" {
		return nil, errors.New("force override identity is required")
	}
	w := &Whitelist{kv: kv, overrideID: overrideID, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OverrideID returns the force-override identity.
func (w *Whitelist) OverrideID() string {
	return w.overrideID
}

// Contains reports whether identity is whitelisted.
func (w *Whitelist) Contains(ctx context.Context, identity string) bool {
	if identity == w.overrideID {
		return true
	}
	return w.kv.IsMember(ctx, kvstore.PartitionWhitelist, membersKey, identity)
}

// IsExempt is Contains for the ban path: a store failure is returned instead
// of reading as "not whitelisted".
func (w *Whitelist) IsExempt(ctx context.Context, identity string) (bool, error) {
	if identity == w.overrideID {
		return true, nil
	}
	ok, err := w.kv.CheckMember(ctx, kvstore.PartitionWhitelist, membersKey, identity)
	if err != nil {
		return false, fmt.Errorf("whitelist lookup %s: %w: %w", identity, sentinel.ErrUnavailable, err)
	}
	return ok, nil
}

// Members lists the stored members. The implicit override is not included.
func (w *Whitelist) Members(ctx context.Context) []string {
	return w.kv.Members(ctx, kvstore.PartitionWhitelist, membersKey)
}

// Add whitelists identity on behalf of actor.
func (w *Whitelist) Add(ctx context.Context, actor, identity string) error {
	if err := w.authorize(actor); err != nil {
		return err
	}
	if identity == w.overrideID {
		return nil
	}
	if !w.kv.AddMember(ctx, kvstore.PartitionWhitelist, membersKey, identity) {
		return fmt.Errorf("whitelist %s: %w", identity, sentinel.ErrUnavailable)
	}
	w.logger.InfoContext(ctx, "identity whitelisted", "identity", identity, "actor", actor)
	return nil
}

// Remove drops identity on behalf of actor. A missing identity returns
// sentinel.ErrNotFound.
func (w *Whitelist) Remove(ctx context.Context, actor, identity string) error {
	if err := w.authorize(actor); err != nil {
		return err
	}
	if identity == w.overrideID {
		return fmt.Errorf("force override identity cannot be removed: %w", sentinel.ErrInvalidState)
	}
	if !w.kv.RemoveMember(ctx, kvstore.PartitionWhitelist, membersKey, identity) {
		return fmt.Errorf("whitelist %s: %w", identity, sentinel.ErrNotFound)
	}
	w.logger.InfoContext(ctx, "identity removed from whitelist", "identity", identity, "actor", actor)
	return nil
}

func (w *Whitelist) authorize(actor string) error {
	if actor != w.overrideID {
		return fmt.Errorf("only the force override identity may change the whitelist: %w", sentinel.ErrForbidden)
	}
	return nil
}
