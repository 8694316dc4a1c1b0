package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers changes to who is banned or exempt. These are
	// the records moderators are accountable for.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers refused or punitive actions: denied commands,
	// timeouts, config link misuse.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as sync runs.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// ActorID is the operator who triggered the action.
	ActorID string
	// Subject is the user the action targets, when there is one.
	Subject     string
	CommunityID string
	Decision    string
	Reason      string
	// RunID correlates every event of one sync run or command invocation.
	RunID string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Blacklist events
	EventBlacklistAdded   AuditEvent = "blacklist_added"
	EventBlacklistRemoved AuditEvent = "blacklist_removed"

	// Whitelist events
	EventWhitelistAdded   AuditEvent = "whitelist_added"
	EventWhitelistRemoved AuditEvent = "whitelist_removed"

	// Sync events
	EventSyncCompleted AuditEvent = "sync_completed"
	EventSyncSkipped   AuditEvent = "sync_skipped"
	EventSyncCancelled AuditEvent = "sync_cancelled"
	EventSyncDenied    AuditEvent = "sync_denied"

	// Moderation events
	EventUserWarned      AuditEvent = "user_warned"
	EventUserTimedOut    AuditEvent = "user_timed_out"
	EventWarningsCleared AuditEvent = "warnings_cleared"

	// Config events
	EventGuildConfigUpdated AuditEvent = "guild_config_updated"
	EventConfigLinkIssued   AuditEvent = "config_link_issued"
	EventConfigLinkRejected AuditEvent = "config_link_rejected"

	// Command events
	EventCommandDenied AuditEvent = "command_denied"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventBlacklistAdded:     CategoryCompliance,
	EventBlacklistRemoved:   CategoryCompliance,
	EventWhitelistAdded:     CategoryCompliance,
	EventWhitelistRemoved:   CategoryCompliance,
	EventGuildConfigUpdated: CategoryCompliance,

	EventSyncDenied:         CategorySecurity,
	EventUserTimedOut:       CategorySecurity,
	EventCommandDenied:      CategorySecurity,
	EventConfigLinkRejected: CategorySecurity,

	EventSyncCompleted:    CategoryOperations,
	EventSyncSkipped:      CategoryOperations,
	EventSyncCancelled:    CategoryOperations,
	EventUserWarned:       CategoryOperations,
	EventWarningsCleared:  CategoryOperations,
	EventConfigLinkIssued: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
