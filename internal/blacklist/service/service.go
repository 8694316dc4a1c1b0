// Package service runs the operator-facing blacklist flows: adding a user with
// evidence and immediate bans, and removing a user with unbans.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bansync/internal/blacklist/models"
	"bansync/internal/chat"
	"bansync/internal/evidence"
	"bansync/internal/throttle"
	audit "bansync/pkg/platform/audit"
	"bansync/pkg/platform/sentinel"
)

const (
	// ViewImagesDirect prefixes the custom id of the direct image viewer button.
	ViewImagesDirect = "view_images_direct"

	defaultCallTimeout = 10 * time.Second
	banReasonPrefix    = "Blacklisted: "
)

// ErrAlreadyBlacklisted is returned by Add for an identity already on the list.
var ErrAlreadyBlacklisted = fmt.Errorf("already blacklisted: %w", sentinel.ErrConflict)

// Repository is the blacklist persistence the service needs.
type Repository interface {
	Exists(ctx context.Context, identity string) bool
	Get(ctx context.Context, identity string) (models.Entry, error)
	Save(ctx context.Context, e models.Entry) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]models.Entry, error)
	SearchByName(ctx context.Context, query string) []models.Entry
}

// Platform is the chat platform surface used for immediate bans and announcements.
type Platform interface {
	Communities(ctx context.Context) ([]chat.Community, error)
	HasBanCapability(ctx context.Context, communityID string) (bool, error)
	Ban(ctx context.Context, communityID, identity, reason string) error
	Unban(ctx context.Context, communityID, identity string) error
	ListTextChannels(ctx context.Context, communityID string) ([]chat.Channel, error)
	Announce(ctx context.Context, channelID string, msg chat.Message) error
}

// Exemptions reports whitelist membership. A lookup failure is an error, never
// "not exempt".
type Exemptions interface {
	IsExempt(ctx context.Context, identity string) (bool, error)
}

// Uploader stores attachments as evidence.
type Uploader interface {
	Upload(ctx context.Context, username string, attachments []evidence.Attachment) (evidence.Result, error)
}

// AddRequest describes a blacklist command.
type AddRequest struct {
	ActorID     string
	Identity    string
	DisplayName string
	Reason      string
	Attachments []evidence.Attachment
}

// CommunityError is a per-community failure that did not stop the flow.
type CommunityError struct {
	CommunityID string
	Err         error
}

// AddResult reports what Add did.
type AddResult struct {
	Entry     models.Entry
	Evidence  evidence.Result
	// Exempt is set when the identity is whitelisted and no bans were applied.
	Exempt    bool
	Banned    []string
	Announced []string
	Failures  []CommunityError
}

// RemoveResult reports what Remove did.
type RemoveResult struct {
	Entry    models.Entry
	Unbanned []string
	Failures []CommunityError
}

type Service struct {
	repo       Repository
	platform   Platform
	uploader   Uploader
	exemptions Exemptions

	limiter     throttle.Throttle
	channels    *chat.ChannelMatcher
	callTimeout time.Duration
	logger      *slog.Logger
	auditor     audit.Emitter
}

type Option func(*Service)

// WithLimiter shares the process-wide ban limiter with the sync engine.
func WithLimiter(t throttle.Throttle) Option {
	return func(s *Service) {
		s.limiter = t
	}
}

func WithChannelMatcher(m *chat.ChannelMatcher) Option {
	return func(s *Service) {
		s.channels = m
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func New(repo Repository, platform Platform, uploader Uploader, exemptions Exemptions, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("blacklist repository is required")
	}
	if platform == nil {
		return nil, errors.New("chat platform is required")
	}
	if uploader == nil {
		return nil, errors.New("evidence uploader is required")
	}
	if exemptions == nil {
		return nil, errors.New("exemptions are required")
	}
	matcher, err := chat.NewChannelMatcher("")
	if err != nil {
		return nil, err
	}
	s := &Service{
		repo:        repo,
		platform:    platform,
		uploader:    uploader,
		exemptions:  exemptions,
		limiter:     throttle.None{},
		channels:    matcher,
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add stores evidence, persists the entry, bans the user in every community
// where the bot can ban and announces the entry there. A whitelisted identity
// is saved and announced but not banned. Communities are not marked as synced;
// the next sync run still replicates the full blacklist.
func (s *Service) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	entry := models.Entry{
		Identity:    strings.TrimSpace(req.Identity),
		DisplayName: req.DisplayName,
		Reason:      strings.TrimSpace(req.Reason),
	}
	if err := entry.Validate(); err != nil {
		return AddResult{}, err
	}
	if entry.DisplayName == "" {
		entry.DisplayName = entry.Identity
	}
	if s.repo.Exists(ctx, entry.Identity) {
		return AddResult{}, ErrAlreadyBlacklisted
	}

	var res AddResult
	if len(req.Attachments) > 0 {
		ev, err := s.uploader.Upload(ctx, entry.DisplayName, req.Attachments)
		if err != nil {
			return AddResult{}, fmt.Errorf("store evidence: %w", err)
		}
		res.Evidence = ev
		entry.EvidenceLink = ev.FolderLink
		entry.EvidenceFolderID = ev.FolderID
	}

	if err := s.repo.Save(ctx, entry); err != nil {
		return AddResult{}, fmt.Errorf("save blacklist entry: %w", err)
	}
	res.Entry = entry

	audit.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Action:  string(audit.EventBlacklistAdded),
		ActorID: req.ActorID,
		Subject: entry.Identity,
		Reason:  entry.Reason,
	}, "evidence_files", len(res.Evidence.Uploaded))

	exempt, err := s.exemptions.IsExempt(ctx, entry.Identity)
	if err != nil {
		return res, fmt.Errorf("bans skipped: %w", err)
	}
	res.Exempt = exempt

	communities, err := s.communities(ctx)
	if err != nil {
		return res, err
	}
	msg := Announcement(entry)
	for _, c := range communities {
		if !exempt {
			if err := s.limiter.Wait(ctx); err != nil {
				return res, err
			}
			banned, err := s.banIn(ctx, c.ID, entry)
			if err != nil {
				res.Failures = append(res.Failures, CommunityError{CommunityID: c.ID, Err: err})
				continue
			}
			if !banned {
				continue
			}
			res.Banned = append(res.Banned, c.ID)
		}
		if channelID := s.announcementChannel(ctx, c.ID); channelID != "" {
			if err := s.announce(ctx, channelID, msg); err != nil {
				res.Failures = append(res.Failures, CommunityError{CommunityID: c.ID, Err: err})
				continue
			}
			res.Announced = append(res.Announced, c.ID)
		}
	}
	return res, nil
}

func (s *Service) banIn(ctx context.Context, communityID string, entry models.Entry) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	capable, err := s.platform.HasBanCapability(callCtx, communityID)
	if err != nil {
		return false, fmt.Errorf("check ban permission: %w", err)
	}
	if !capable {
		return false, nil
	}
	if err := s.platform.Ban(callCtx, communityID, entry.Identity, banReasonPrefix+entry.Reason); err != nil {
		s.logger.WarnContext(ctx, "immediate ban failed",
			"community_id", communityID, "identity", entry.Identity, "error", err)
		return false, fmt.Errorf("ban: %w", err)
	}
	return true, nil
}

func (s *Service) announcementChannel(ctx context.Context, communityID string) string {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	channels, err := s.platform.ListTextChannels(callCtx, communityID)
	if err != nil {
		s.logger.WarnContext(ctx, "list channels failed", "community_id", communityID, "error", err)
		return ""
	}
	matched := s.channels.Select(channels)
	if len(matched) == 0 {
		return ""
	}
	return matched[0].ID
}

func (s *Service) announce(ctx context.Context, channelID string, msg chat.Message) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.platform.Announce(callCtx, channelID, msg); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	return nil
}

func (s *Service) communities(ctx context.Context) ([]chat.Community, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	communities, err := s.platform.Communities(callCtx)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	return communities, nil
}

// Remove deletes the entry and lifts the ban in every community. A missing
// entry returns sentinel.ErrNotFound and touches no community.
func (s *Service) Remove(ctx context.Context, actorID, identity string) (RemoveResult, error) {
	identity = strings.TrimSpace(identity)
	entry, err := s.repo.Get(ctx, identity)
	if err != nil {
		return RemoveResult{}, err
	}
	if err := s.repo.Delete(ctx, identity); err != nil {
		return RemoveResult{}, err
	}
	res := RemoveResult{Entry: entry}

	audit.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Action:  string(audit.EventBlacklistRemoved),
		ActorID: actorID,
		Subject: identity,
	})

	communities, err := s.communities(ctx)
	if err != nil {
		return res, err
	}
	for _, c := range communities {
		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.platform.Unban(callCtx, c.ID, identity)
		cancel()
		switch {
		case err == nil:
			res.Unbanned = append(res.Unbanned, c.ID)
		case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, chat.ErrBanNotFound):
			// not banned there
		default:
			res.Failures = append(res.Failures, CommunityError{CommunityID: c.ID, Err: err})
		}
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, identity string) (models.Entry, error) {
	return s.repo.Get(ctx, identity)
}

func (s *Service) List(ctx context.Context) ([]models.Entry, error) {
	return s.repo.List(ctx)
}

func (s *Service) Search(ctx context.Context, query string) []models.Entry {
	return s.repo.SearchByName(ctx, query)
}

// Announcement is the rich message posted when a user is blacklisted.
func Announcement(e models.Entry) chat.Message {
	proof := e.EvidenceLink
	if proof == "" {
		proof = "None"
	}
	msg := chat.Message{
		Title:       "User Blacklisted",
		Description: fmt.Sprintf("<@%s> (%s) has been added to the blacklist.", e.Identity, e.DisplayName),
		Fields: []chat.Field{
			{Name: "User ID", Value: e.Identity, Inline: true},
			{Name: "Reason", Value: e.Reason},
			{Name: "Proof Link", Value: proof},
		},
	}
	if e.EvidenceLink != "" {
		msg.Buttons = append(msg.Buttons, chat.Button{Label: "View Images", URL: e.EvidenceLink})
	}
	if e.EvidenceFolderID != "" {
		msg.Buttons = append(msg.Buttons, chat.Button{
			Label:    "View Images Direct",
			CustomID: ViewImagesDirect + ":" + e.EvidenceFolderID,
		})
	}
	return msg
}
