// Package commands turns slash commands and button presses into calls on the
// blacklist, sync, whitelist and moderation services and renders the replies.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bansync/internal/blacklist/models"
	"bansync/internal/blacklist/service"
	"bansync/internal/chat"
	"bansync/internal/evidence"
	"bansync/internal/guildconfig"
	"bansync/internal/moderation"
	"bansync/internal/platform/metrics"
	"bansync/internal/syncengine"
	"bansync/internal/syncstate"
	audit "bansync/pkg/platform/audit"
)

// Command names.
const (
	CmdSyncBans      = "syncbans"
	CmdSyncAll       = "syncall"
	CmdSyncStatus    = "syncstatus"
	CmdBlacklist     = "blacklist"
	CmdUnblacklist   = "unblacklist"
	CmdWhitelist     = "whitelist"
	CmdUnwhitelist   = "unwhitelist"
	CmdList          = "list"
	CmdListWhitelist = "list-whitelist"
	CmdSearch        = "search"
	CmdWarn          = "warn"
	CmdWarns         = "warns"
	CmdClearWarns    = "clearwarns"
	CmdConfig        = "config"
)

// Option names.
const (
	OptUser    = "user"
	OptReason  = "reason"
	OptPattern = "pattern"
)

// Request is a platform-neutral command invocation or button press.
type Request struct {
	Name string
	// Component is set for button presses; Name then holds the custom id.
	Component   bool
	ActorID     string
	CommunityID string
	ChannelID   string
	Options     map[string]string
	// Users maps user option values to display names.
	Users       map[string]string
	Attachments []evidence.Attachment
}

func (r Request) option(name string) string {
	return strings.TrimSpace(r.Options[name])
}

func (r Request) userName(id string) string {
	if n := r.Users[id]; n != "" {
		return n
	}
	return id
}

// File is an attachment on a reply.
type File struct {
	Name        string
	ContentType string
	Path        string
}

// Response is one message sent back to the invoker.
type Response struct {
	Content   string
	Messages  []chat.Message
	Files     []File
	Ephemeral bool
}

// Responder delivers replies for one interaction. Reply sends the first
// response, or edits it after Defer or an earlier Reply.
type Responder interface {
	Defer(ctx context.Context) error
	Reply(ctx context.Context, resp Response) error
	Followup(ctx context.Context, resp Response) error
}

type Syncer interface {
	SyncCommunity(ctx context.Context, communityID, requesterID string, progress syncengine.Progress) syncengine.Outcome
	SyncAll(ctx context.Context, requesterID string, progress syncengine.Progress) ([]syncengine.Outcome, error)
}

type Blacklist interface {
	Add(ctx context.Context, req service.AddRequest) (service.AddResult, error)
	Remove(ctx context.Context, actorID, identity string) (service.RemoveResult, error)
	List(ctx context.Context) ([]models.Entry, error)
	Search(ctx context.Context, query string) []models.Entry
}

type Whitelist interface {
	Contains(ctx context.Context, identity string) bool
	Members(ctx context.Context) []string
	Add(ctx context.Context, actor, identity string) error
	Remove(ctx context.Context, actor, identity string) error
}

type Moderation interface {
	Warn(ctx context.Context, actorID, communityID, userID, reason string) (moderation.WarnResult, error)
	Warns(ctx context.Context, communityID, userID string) moderation.Status
	Clear(ctx context.Context, actorID, communityID, userID string)
}

type EvidenceViewer interface {
	View(ctx context.Context, folderID string) (string, []string, error)
}

type SyncStatus interface {
	Details(ctx context.Context, communityID string) (syncstate.Record, bool)
}

type LinkIssuer interface {
	Link(communityID, actorID string) (string, time.Time, error)
}

type CommunityConfig interface {
	Load(communityID string) (guildconfig.Config, error)
}

// Notifier posts plain text to a channel or a user.
type Notifier interface {
	SendText(ctx context.Context, channelID, text string) error
	DirectMessage(ctx context.Context, userID, text string) error
}

// Deps are the services the router dispatches to.
type Deps struct {
	Syncer     Syncer
	Blacklist  Blacklist
	Whitelist  Whitelist
	Moderation Moderation
	Evidence   EvidenceViewer
	SyncStatus SyncStatus
	// Links and Configs are optional; without them /config and action
	// logging are disabled.
	Links    LinkIssuer
	Configs  CommunityConfig
	Notifier Notifier
}

type handlerFunc func(ctx context.Context, req Request, resp Responder) error

// Router dispatches requests by command name.
type Router struct {
	deps     Deps
	handlers map[string]handlerFunc

	// runCtx outlives individual interactions; long syncs run under it.
	runCtx context.Context

	// debugUserID is told when a community's log channel is unusable.
	debugUserID string

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Emitter
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(r *Router) {
		r.auditor = p
	}
}

// WithDebugUser sets the user who is sent a DM when action logging fails.
func WithDebugUser(userID string) Option {
	return func(r *Router) {
		r.debugUserID = userID
	}
}

// WithRunContext sets the context long-running commands use instead of the
// interaction context. Cancelling it stops in-flight syncs.
func WithRunContext(ctx context.Context) Option {
	return func(r *Router) {
		r.runCtx = ctx
	}
}

func New(deps Deps, opts ...Option) (*Router, error) {
	switch {
	case deps.Syncer == nil:
		return nil, errors.New("syncer is required")
	case deps.Blacklist == nil:
		return nil, errors.New("blacklist service is required")
	case deps.Whitelist == nil:
		return nil, errors.New("whitelist is required")
	case deps.Moderation == nil:
		return nil, errors.New("moderation service is required")
	case deps.Evidence == nil:
		return nil, errors.New("evidence viewer is required")
	case deps.SyncStatus == nil:
		return nil, errors.New("sync status is required")
	}
	r := &Router{
		deps:   deps,
		runCtx: context.Background(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[string]handlerFunc{
		CmdSyncBans:      r.whitelisted(r.communityOnly(r.handleSyncBans)),
		CmdSyncAll:       r.whitelisted(r.handleSyncAll),
		CmdSyncStatus:    r.whitelisted(r.communityOnly(r.handleSyncStatus)),
		CmdBlacklist:     r.whitelisted(r.handleBlacklist),
		CmdUnblacklist:   r.whitelisted(r.handleUnblacklist),
		CmdWhitelist:     r.handleWhitelist,
		CmdUnwhitelist:   r.handleUnwhitelist,
		CmdList:          r.whitelisted(r.handleList),
		CmdListWhitelist: r.whitelisted(r.handleListWhitelist),
		CmdSearch:        r.whitelisted(r.handleSearch),
		CmdWarn:          r.communityOnly(r.handleWarn),
		CmdWarns:         r.communityOnly(r.handleWarns),
		CmdClearWarns:    r.communityOnly(r.handleClearWarns),
		CmdConfig:        r.whitelisted(r.communityOnly(r.handleConfig)),

		service.ViewImagesDirect: r.handleViewImages,
	}
	return r, nil
}

// Handle runs one request. Errors are reported to the invoker and returned
// for logging.
func (r *Router) Handle(ctx context.Context, req Request, resp Responder) error {
	name := req.Name
	if req.Component {
		name, _, _ = strings.Cut(req.Name, ":")
	}
	h, ok := r.handlers[name]
	if !ok {
		r.metrics.ObserveCommand(name, "unknown")
		return resp.Reply(ctx, ephemeral("Unknown command."))
	}

	err := h(ctx, req, resp)
	status := "ok"
	if err != nil {
		status = "error"
		r.logger.ErrorContext(ctx, "command failed",
			"command", name,
			"actor_id", req.ActorID,
			"community_id", req.CommunityID,
			"error", err,
		)
	}
	r.metrics.ObserveCommand(name, status)
	return err
}

func (r *Router) whitelisted(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request, resp Responder) error {
		if !r.deps.Whitelist.Contains(ctx, req.ActorID) {
			audit.LogAudit(ctx, r.logger, r.auditor, audit.Event{
				Action:      string(audit.EventCommandDenied),
				ActorID:     req.ActorID,
				CommunityID: req.CommunityID,
				Reason:      req.Name,
			})
			return resp.Reply(ctx, ephemeral(msgNotWhitelisted))
		}
		return next(ctx, req, resp)
	}
}

func (r *Router) communityOnly(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req Request, resp Responder) error {
		if req.CommunityID == "" {
			return resp.Reply(ctx, ephemeral(msgNoDMs))
		}
		return next(ctx, req, resp)
	}
}

func ephemeral(content string) Response {
	return Response{Content: content, Ephemeral: true}
}

// logAction posts a line to the community's log channel when enabled.
func (r *Router) logAction(ctx context.Context, communityID, text string) {
	if r.deps.Configs == nil || r.deps.Notifier == nil || communityID == "" {
		return
	}
	cfg, err := r.deps.Configs.Load(communityID)
	if err != nil || !cfg.LogToChannel {
		return
	}
	if cfg.LogChannelID == "" {
		r.notifyDebugUser(ctx, fmt.Sprintf("Community %s has logging enabled but no log channel set.", communityID))
		return
	}
	if err := r.deps.Notifier.SendText(ctx, cfg.LogChannelID, text); err != nil {
		r.logger.WarnContext(ctx, "log channel post failed",
			"community_id", communityID, "channel_id", cfg.LogChannelID, "error", err)
		r.notifyDebugUser(ctx, fmt.Sprintf("Could not post to log channel %s in community %s: %v",
			cfg.LogChannelID, communityID, err))
	}
}

func (r *Router) notifyDebugUser(ctx context.Context, text string) {
	if r.debugUserID == "" {
		return
	}
	if err := r.deps.Notifier.DirectMessage(ctx, r.debugUserID, text); err != nil {
		r.logger.WarnContext(ctx, "debug dm failed", "error", err)
	}
}

func mention(id string) string {
	return fmt.Sprintf("<@%s>", id)
}
