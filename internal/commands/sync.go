package commands

import (
	"context"
	"fmt"
	"strings"

	"bansync/internal/chat"
	"bansync/internal/syncengine"
)

func (r *Router) handleSyncBans(ctx context.Context, req Request, resp Responder) error {
	if err := resp.Defer(ctx); err != nil {
		return err
	}
	progress := func(ev syncengine.ProgressEvent) {
		var text string
		switch ev.Kind {
		case syncengine.ProgressStarted:
			text = fmt.Sprintf("Starting sync process for %d users...", ev.Total)
		case syncengine.ProgressAttempted:
			text = progressText(ev)
		default:
			return
		}
		if err := resp.Reply(ctx, ephemeral(text)); err != nil {
			r.logger.DebugContext(ctx, "progress update failed", "error", err)
		}
	}

	out := r.deps.Syncer.SyncCommunity(r.runCtx, req.CommunityID, req.ActorID, progress)

	if out.Kind == syncengine.OutcomeCompleted || out.Kind == syncengine.OutcomeCancelled {
		_ = resp.Reply(ctx, ephemeral("Sync process completed!"))
		if out.Succeeded > 0 {
			r.logAction(r.runCtx, req.CommunityID, fmt.Sprintf("%s synced the blacklist: %d/%d bans applied.",
				mention(req.ActorID), out.Succeeded, out.Attempted))
		}
		return r.followupOrPost(ctx, req, resp, out.Summary())
	}
	return resp.Reply(ctx, ephemeral(out.Summary()))
}

// followupOrPost sends text as a followup and falls back to a channel post
// once the interaction token has expired.
func (r *Router) followupOrPost(ctx context.Context, req Request, resp Responder, text string) error {
	err := resp.Followup(ctx, ephemeral(text))
	if err == nil || r.deps.Notifier == nil || req.ChannelID == "" {
		return err
	}
	r.logger.WarnContext(ctx, "followup failed, posting to channel", "error", err)
	return r.deps.Notifier.SendText(r.runCtx, req.ChannelID, mention(req.ActorID)+" "+text)
}

func progressText(ev syncengine.ProgressEvent) string {
	return fmt.Sprintf("Syncing bans... Progress: %d/%d\nSuccessful: %d\nFailed: %d",
		ev.Index, ev.Total, ev.Succeeded, ev.Failed)
}

func (r *Router) handleSyncAll(ctx context.Context, req Request, resp Responder) error {
	if err := resp.Defer(ctx); err != nil {
		return err
	}
	_ = resp.Reply(ctx, ephemeral("Syncing blacklists..."))

	finished := 0
	progress := func(ev syncengine.ProgressEvent) {
		if ev.Kind != syncengine.ProgressFinished {
			return
		}
		finished++
		_ = resp.Reply(ctx, ephemeral(fmt.Sprintf("Syncing blacklists... %d communities done", finished)))
	}
	outcomes, err := r.deps.Syncer.SyncAll(r.runCtx, req.ActorID, progress)
	if err != nil {
		return resp.Reply(ctx, ephemeral("Could not list communities: "+err.Error()))
	}
	return r.followupOrPost(ctx, req, resp, "Sync summary:\n"+syncAllSummary(outcomes))
}

func syncAllSummary(outcomes []syncengine.Outcome) string {
	if len(outcomes) == 0 {
		return "The bot is not in any community."
	}
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		var line string
		switch o.Kind {
		case syncengine.OutcomeCompleted, syncengine.OutcomeCancelled:
			line = fmt.Sprintf("%s: %s, %d/%d banned, %d failed", o.CommunityID, o.Kind, o.Succeeded, o.Attempted, o.Failed)
		case syncengine.OutcomeSkip:
			line = fmt.Sprintf("%s: already up to date", o.CommunityID)
		default:
			first, _, _ := strings.Cut(o.Summary(), "\n")
			line = fmt.Sprintf("%s: %s", o.CommunityID, first)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (r *Router) handleSyncStatus(ctx context.Context, req Request, resp Responder) error {
	rec, ok := r.deps.SyncStatus.Details(ctx, req.CommunityID)
	if !ok {
		return resp.Reply(ctx, ephemeral("This community has never been synced."))
	}
	return resp.Reply(ctx, Response{Ephemeral: true, Messages: []chat.Message{syncStatusMessage(rec)}})
}
