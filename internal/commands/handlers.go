package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bansync/internal/blacklist/service"
	"bansync/internal/chat"
	"bansync/internal/evidence"
	"bansync/internal/moderation"
	audit "bansync/pkg/platform/audit"
	"bansync/pkg/platform/sentinel"
)

func (r *Router) handleBlacklist(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	if userID == "" {
		return resp.Reply(ctx, ephemeral("A user is required."))
	}
	if err := resp.Defer(ctx); err != nil {
		return err
	}
	res, err := r.deps.Blacklist.Add(ctx, service.AddRequest{
		ActorID:     req.ActorID,
		Identity:    userID,
		DisplayName: req.userName(userID),
		Reason:      req.option(OptReason),
		Attachments: req.Attachments,
	})
	switch {
	case errors.Is(err, service.ErrAlreadyBlacklisted):
		return resp.Reply(ctx, ephemeral(fmt.Sprintf("User %s is already blacklisted.", mention(userID))))
	case err != nil && res.Entry.Identity == "":
		_ = resp.Reply(ctx, ephemeral("Could not blacklist the user: "+err.Error()))
		return err
	}

	lines := []string{"User has been blacklisted!"}
	if n := len(res.Evidence.Uploaded); n > 0 {
		lines = append(lines, fmt.Sprintf("Evidence files uploaded: %d", n))
	}
	for _, s := range res.Evidence.Skipped {
		lines = append(lines, fmt.Sprintf("Skipped attachment %s: %s", s.URL, s.Reason))
	}
	if res.Exempt {
		lines = append(lines, "User is whitelisted, so no bans were applied.")
	} else {
		lines = append(lines, fmt.Sprintf("Banned in %d communities.", len(res.Banned)))
	}
	for _, f := range res.Failures {
		lines = append(lines, fmt.Sprintf("Failed in community %s: %v", f.CommunityID, f.Err))
	}
	if err != nil {
		lines = append(lines, "Bans were not fully applied: "+err.Error())
	}
	r.logAction(ctx, req.CommunityID, fmt.Sprintf("%s blacklisted %s: %s",
		mention(req.ActorID), mention(userID), res.Entry.Reason))
	return resp.Reply(ctx, ephemeral(strings.Join(lines, "\n")))
}

func (r *Router) handleUnblacklist(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	if err := resp.Defer(ctx); err != nil {
		return err
	}
	res, err := r.deps.Blacklist.Remove(ctx, req.ActorID, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return resp.Reply(ctx, ephemeral(fmt.Sprintf("User %s is not blacklisted.", mention(userID))))
	}
	if err != nil && res.Entry.Identity == "" {
		_ = resp.Reply(ctx, ephemeral("Could not unblacklist the user: "+err.Error()))
		return err
	}
	text := fmt.Sprintf("User %s has been removed from the blacklist.", mention(userID))
	if len(res.Failures) > 0 {
		text += fmt.Sprintf("\nUnban failed in %d communities.", len(res.Failures))
	}
	r.logAction(ctx, req.CommunityID, fmt.Sprintf("%s removed %s from the blacklist.", mention(req.ActorID), mention(userID)))
	return resp.Reply(ctx, ephemeral(text))
}

func (r *Router) handleWhitelist(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	err := r.deps.Whitelist.Add(ctx, req.ActorID, userID)
	switch {
	case errors.Is(err, sentinel.ErrForbidden):
		return resp.Reply(ctx, ephemeral(msgWhitelistDenied))
	case err != nil:
		_ = resp.Reply(ctx, ephemeral(msgStoreUnavailable))
		return err
	}
	audit.LogAudit(ctx, r.logger, r.auditor, audit.Event{
		Action:  string(audit.EventWhitelistAdded),
		ActorID: req.ActorID,
		Subject: userID,
	})
	return resp.Reply(ctx, ephemeral(fmt.Sprintf("User %s has been added to the whitelist.", mention(userID))))
}

func (r *Router) handleUnwhitelist(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	err := r.deps.Whitelist.Remove(ctx, req.ActorID, userID)
	switch {
	case errors.Is(err, sentinel.ErrForbidden):
		return resp.Reply(ctx, ephemeral(msgWhitelistDenied))
	case errors.Is(err, sentinel.ErrNotFound):
		return resp.Reply(ctx, ephemeral(fmt.Sprintf("User %s is not whitelisted.", mention(userID))))
	case errors.Is(err, sentinel.ErrInvalidState):
		return resp.Reply(ctx, ephemeral("The force override user cannot be removed."))
	case err != nil:
		_ = resp.Reply(ctx, ephemeral(msgStoreUnavailable))
		return err
	}
	audit.LogAudit(ctx, r.logger, r.auditor, audit.Event{
		Action:  string(audit.EventWhitelistRemoved),
		ActorID: req.ActorID,
		Subject: userID,
	})
	return resp.Reply(ctx, ephemeral(fmt.Sprintf("User %s has been removed from the whitelist.", mention(userID))))
}

func (r *Router) handleList(ctx context.Context, _ Request, resp Responder) error {
	entries, err := r.deps.Blacklist.List(ctx)
	if err != nil {
		_ = resp.Reply(ctx, ephemeral(msgStoreUnavailable))
		return err
	}
	r.metrics.SetBlacklistSize(len(entries))
	if len(entries) == 0 {
		return resp.Reply(ctx, ephemeral(msgNoBlacklisted))
	}
	return r.sendPages(ctx, resp, entryMessages(entries))
}

func (r *Router) handleListWhitelist(ctx context.Context, _ Request, resp Responder) error {
	members := r.deps.Whitelist.Members(ctx)
	r.metrics.SetWhitelistSize(len(members))
	if len(members) == 0 {
		return resp.Reply(ctx, ephemeral(msgNoWhitelisted))
	}
	return r.sendPages(ctx, resp, whitelistMessages(members))
}

func (r *Router) handleSearch(ctx context.Context, req Request, resp Responder) error {
	pattern := req.option(OptPattern)
	found := r.deps.Blacklist.Search(ctx, pattern)
	if len(found) == 0 {
		return resp.Reply(ctx, ephemeral(fmt.Sprintf("No blacklisted user found with the pattern `%s`", pattern)))
	}
	return r.sendPages(ctx, resp, entryMessages(found))
}

// sendPages replies with the first page and sends the rest as followups.
func (r *Router) sendPages(ctx context.Context, resp Responder, msgs []chat.Message) error {
	for i, page := range chunk(msgs) {
		out := Response{Messages: page, Ephemeral: true}
		var err error
		if i == 0 {
			err = resp.Reply(ctx, out)
		} else {
			err = resp.Followup(ctx, out)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) handleWarn(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	reason := req.option(OptReason)
	res, err := r.deps.Moderation.Warn(ctx, req.ActorID, req.CommunityID, userID, reason)
	if err != nil {
		_ = resp.Reply(ctx, ephemeral(msgStoreUnavailable))
		return err
	}
	msgs := []chat.Message{warnMessage(userID, reason, res)}
	if res.TimedOut {
		msgs = append([]chat.Message{timeoutMessage(userID, res.Duration)}, msgs...)
		r.logAction(ctx, req.CommunityID, fmt.Sprintf("%s was timed out for %s.", mention(userID), humanDuration(res.Duration)))
	}
	if res.TimeoutErr != nil {
		msgs = append(msgs, chat.Message{
			Title:       "Timeout Failed",
			Description: fmt.Sprintf("Could not time out %s: %v", mention(userID), res.TimeoutErr),
		})
	}
	r.logAction(ctx, req.CommunityID, fmt.Sprintf("%s warned %s: %s", mention(req.ActorID), mention(userID), reason))
	return resp.Reply(ctx, Response{Messages: msgs})
}

func (r *Router) handleWarns(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	st := r.deps.Moderation.Warns(ctx, req.CommunityID, userID)
	return resp.Reply(ctx, Response{Messages: []chat.Message{warnsMessage(req.userName(userID), st)}})
}

func (r *Router) handleClearWarns(ctx context.Context, req Request, resp Responder) error {
	userID := req.option(OptUser)
	r.deps.Moderation.Clear(ctx, req.ActorID, req.CommunityID, userID)
	return resp.Reply(ctx, Response{Ephemeral: true, Messages: []chat.Message{{
		Title:       "Warnings Cleared",
		Description: fmt.Sprintf("All warnings have been cleared for %s.", mention(userID)),
	}}})
}

func (r *Router) handleConfig(ctx context.Context, req Request, resp Responder) error {
	if r.deps.Links == nil {
		return resp.Reply(ctx, ephemeral("The config site is not enabled."))
	}
	link, expires, err := r.deps.Links.Link(req.CommunityID, req.ActorID)
	if err != nil {
		_ = resp.Reply(ctx, ephemeral("Could not create a config link."))
		return err
	}
	audit.LogAudit(ctx, r.logger, r.auditor, audit.Event{
		Action:      string(audit.EventConfigLinkIssued),
		ActorID:     req.ActorID,
		CommunityID: req.CommunityID,
	})
	return resp.Reply(ctx, ephemeral(fmt.Sprintf("Edit this community's settings here (expires <t:%d:R>):\n%s",
		expires.Unix(), link)))
}

func (r *Router) handleViewImages(ctx context.Context, req Request, resp Responder) error {
	_, folderID, _ := strings.Cut(req.Name, ":")
	if folderID == "" {
		return resp.Reply(ctx, ephemeral(msgNoImages))
	}
	if err := resp.Defer(ctx); err != nil {
		return err
	}
	_ = resp.Reply(ctx, ephemeral("Processing images..."))

	dir, paths, err := r.deps.Evidence.View(ctx, folderID)
	if errors.Is(err, evidence.ErrNoImages) {
		return resp.Followup(ctx, ephemeral(msgNoImages))
	}
	if err != nil {
		_ = resp.Followup(ctx, ephemeral("Could not load the images."))
		return err
	}
	defer os.RemoveAll(dir)

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		files = append(files, File{Name: filepath.Base(p), Path: p})
	}
	return resp.Followup(ctx, Response{Files: files, Ephemeral: true})
}

var _ Moderation = (*moderation.Service)(nil)
