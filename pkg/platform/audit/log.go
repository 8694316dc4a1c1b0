package audit

import (
	"context"
	"log/slog"
)

// Emitter publishes audit events. *publisher.Publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogAudit writes event to the structured log and, when emitter is set, to the
// audit trail. attrs are extra log attributes only.
func LogAudit(ctx context.Context, logger *slog.Logger, emitter Emitter, event Event, attrs ...any) {
	args := append(attrs,
		"event", event.Action,
		"log_type", "audit",
	)
	if event.ActorID != "" {
		args = append(args, "actor_id", event.ActorID)
	}
	if event.Subject != "" {
		args = append(args, "subject", event.Subject)
	}
	if event.CommunityID != "" {
		args = append(args, "community_id", event.CommunityID)
	}
	if event.RunID != "" {
		args = append(args, "run_id", event.RunID)
	}

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
