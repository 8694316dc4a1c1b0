package syncengine

import (
	"context"

	"bansync/internal/chat"
)

//go:generate mockgen -source=api.go -destination=mocks/mocks.go -package=mocks

// BanAPI is the slice of the chat platform the engine drives. Implementations
// must honour ctx deadlines.
type BanAPI interface {
	Ban(ctx context.Context, communityID, identity, reason string) error
	// FetchBan reports whether identity is currently banned in the community.
	FetchBan(ctx context.Context, communityID, identity string) (bool, error)
	HasBanCapability(ctx context.Context, communityID string) (bool, error)
	ListTextChannels(ctx context.Context, communityID string) ([]chat.Channel, error)
	Communities(ctx context.Context) ([]chat.Community, error)
	Unban(ctx context.Context, communityID, identity string) error
}
