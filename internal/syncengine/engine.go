// Package syncengine replicates the canonical blacklist into one community at
// a time and records which fingerprint each community holds.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bansync/internal/blacklist/store"
	"bansync/internal/chat"
	"bansync/internal/syncstate"
	"bansync/internal/throttle"
	audit "bansync/pkg/platform/audit"
)

const (
	DefaultBanReason           = "Blacklisted by the bot."
	DefaultCallTimeout         = 10 * time.Second
	DefaultMaxReportedFailures = 10
	DefaultConcurrency         = 4
)

// Engine runs the per-community sync state machine:
// check permissions, check fingerprint, replicate, record, report.
type Engine struct {
	api        BanAPI
	snapshots  SnapshotReader
	tracker    Tracker
	exemptions Exemptions

	pacer       throttle.Throttle
	limiter     throttle.Throttle
	channels    *chat.ChannelMatcher
	clock       clockwork.Clock
	callTimeout time.Duration
	maxReported int
	concurrency int
	banReason   string

	logger  *slog.Logger
	metrics *Metrics
	auditor audit.Emitter
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPacer sets the throttle waited on between attempts in one community.
func WithPacer(t throttle.Throttle) Option {
	return func(e *Engine) {
		e.pacer = t
	}
}

// WithGlobalLimiter sets the process-wide limiter waited on before every ban.
func WithGlobalLimiter(t throttle.Throttle) Option {
	return func(e *Engine) {
		e.limiter = t
	}
}

// WithChannelMatcher sets how the notification channel is chosen.
func WithChannelMatcher(m *chat.ChannelMatcher) Option {
	return func(e *Engine) {
		e.channels = m
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithCallTimeout bounds each external call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithMaxReportedFailures caps the failure list in the Outcome.
func WithMaxReportedFailures(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxReported = n
		}
	}
}

// WithConcurrency bounds how many communities SyncAll runs at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithBanReason(reason string) Option {
	return func(e *Engine) {
		if reason != "" {
			e.banReason = reason
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithAuditPublisher(p audit.Emitter) Option {
	return func(e *Engine) {
		e.auditor = p
	}
}

// New creates an Engine. Without WithPacer the engine does not pause between
// attempts.
func New(api BanAPI, snapshots SnapshotReader, tracker Tracker, exemptions Exemptions, opts ...Option) (*Engine, error) {
	if api == nil {
		return nil, errors.New("ban api is required")
	}
	if snapshots == nil {
		return nil, errors.New("snapshot reader is required")
	}
	if tracker == nil {
		return nil, errors.New("sync tracker is required")
	}
	if exemptions == nil {
		return nil, errors.New("exemptions are required")
	}
	defaultMatcher, err := chat.NewChannelMatcher("")
	if err != nil {
		return nil, err
	}

	e := &Engine{
		api:         api,
		snapshots:   snapshots,
		tracker:     tracker,
		exemptions:  exemptions,
		pacer:       throttle.None{},
		limiter:     throttle.None{},
		channels:    defaultMatcher,
		clock:       clockwork.NewRealClock(),
		callTimeout: DefaultCallTimeout,
		maxReported: DefaultMaxReportedFailures,
		concurrency: DefaultConcurrency,
		banReason:   DefaultBanReason,
		logger:      slog.Default(),
		tracer:      otel.Tracer("bansync/syncengine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SyncCommunity brings one community up to date with the blacklist. It never
// returns an error; every path resolves to an Outcome. progress may be nil.
func (e *Engine) SyncCommunity(ctx context.Context, communityID, requesterID string, progress Progress) (out Outcome) {
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	start := e.clock.Now()
	out = Outcome{CommunityID: communityID, RunID: uuid.NewString()}

	ctx, span := e.tracer.Start(ctx, "syncengine.SyncCommunity", trace.WithAttributes(
		attribute.String("community.id", communityID),
		attribute.String("sync.run_id", out.RunID),
	))
	defer func() {
		out.Duration = e.clock.Since(start)
		span.SetAttributes(
			attribute.String("sync.outcome", string(out.Kind)),
			attribute.Int("sync.attempted", out.Attempted),
			attribute.Int("sync.succeeded", out.Succeeded),
		)
		if out.Err != nil {
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
		e.metrics.observeOutcome(out.Kind, out.Duration)
		e.report(ctx, requesterID, out)
		progress(ProgressEvent{Kind: ProgressFinished, CommunityID: communityID, Total: out.Attempted,
			Succeeded: out.Succeeded, Failed: out.Failed, Outcome: &out})
	}()

	// CHECK_PERMISSIONS
	if !e.exemptions.Contains(ctx, requesterID) {
		out.Kind = OutcomePermissionDenied
		out.Reason = "requester not whitelisted"
		out.Err = newError(KindPermissionDenied, out.Reason, nil)
		return out
	}
	capable, err := e.hasCapability(ctx, communityID)
	if err != nil {
		out.Kind = OutcomePermissionDenied
		out.Reason = "could not verify ban permission"
		out.Err = err
		return out
	}
	if !capable {
		out.Kind = OutcomePermissionDenied
		out.Reason = "bot lacks ban permission in this community"
		out.Err = newError(KindPermissionDenied, out.Reason, nil)
		return out
	}

	// CHECK_ALREADY_SYNCED
	snap, err := e.snapshots.TakeSnapshot(ctx)
	if err != nil {
		out.Kind = OutcomeNothingToSync
		out.Err = newError(KindStoreUnavailable, "blacklist snapshot unreadable", err)
		return out
	}
	if len(snap) == 0 {
		out.Kind = OutcomeNothingToSync
		return out
	}
	out.Fingerprint = store.Fingerprint(snap)
	if e.tracker.IsSynced(ctx, communityID, out.Fingerprint) {
		rec, _ := e.tracker.Details(ctx, communityID)
		out.Kind = OutcomeSkip
		out.ChannelID = rec.NotificationChannelID
		out.AppliedCount = rec.AppliedCount
		return out
	}

	// REPLICATE
	targets := make([]string, 0, len(snap))
	for _, id := range snap.Identities() {
		exempt, err := e.exemptions.IsExempt(ctx, id)
		if err != nil {
			// an unknown exemption must never become a ban
			out.Kind = OutcomeNothingToSync
			out.Reason = "whitelist could not be read"
			out.Err = newError(KindStoreUnavailable, out.Reason, err)
			return out
		}
		if exempt {
			continue
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		out.Kind = OutcomeAllExempt
		return out
	}
	out.ChannelID = e.notificationChannel(ctx, communityID)

	progress(ProgressEvent{Kind: ProgressStarted, CommunityID: communityID, Total: len(targets)})

	cancelled := false
	for i, id := range targets {
		if i > 0 {
			if err := e.pacer.Wait(ctx); err != nil {
				cancelled = true
				break
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			cancelled = true
			break
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		failure := e.replicate(ctx, communityID, id)
		if ctx.Err() != nil {
			// the attempt was cut short by cancellation, not by the platform
			cancelled = true
			break
		}
		out.Attempted++
		e.metrics.observeAttempt(failure)
		if failure == nil {
			out.Succeeded++
		} else {
			out.Failed++
			if len(out.Failures) < e.maxReported {
				out.Failures = append(out.Failures, *failure)
			} else {
				out.TruncatedFailures++
			}
		}
		progress(ProgressEvent{Kind: ProgressAttempted, CommunityID: communityID, Total: len(targets),
			Index: i + 1, Identity: id, Succeeded: out.Succeeded, Failed: out.Failed, Failure: failure})
	}

	if cancelled {
		out.Kind = OutcomeCancelled
		out.Err = ctx.Err()
		return out
	}
	out.Kind = OutcomeCompleted

	// RECORD
	if out.Succeeded > 0 {
		out.Recorded = e.tracker.Record(ctx, syncstate.Record{
			CommunityID:           communityID,
			Fingerprint:           out.Fingerprint,
			NotificationChannelID: out.ChannelID,
			AppliedCount:          out.Succeeded,
			SyncedAt:              e.clock.Now(),
			RequestedBy:           requesterID,
		})
		if !out.Recorded {
			e.logger.WarnContext(ctx, "sync record not written, next run will replicate again",
				"community_id", communityID, "run_id", out.RunID)
		}
	}
	return out
}

// replicate bans one identity and verifies the ban landed.
func (e *Engine) replicate(ctx context.Context, communityID, identity string) *Failure {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	err := e.api.Ban(callCtx, communityID, identity, e.banReason)
	cancel()
	if err != nil {
		if isTimeout(err) {
			return &Failure{Identity: identity, Kind: KindExternalTimeout, Reason: "timeout"}
		}
		return &Failure{Identity: identity, Kind: KindBanApplyFailure,
			Reason: fmt.Sprintf("Error banning user %s in community %s: %v", identity, communityID, err)}
	}

	callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
	banned, err := e.api.FetchBan(callCtx, communityID, identity)
	cancel()
	switch {
	case err != nil && isTimeout(err):
		return &Failure{Identity: identity, Kind: KindExternalTimeout, Reason: "timeout"}
	case errors.Is(err, chat.ErrBanNotFound), err == nil && !banned:
		return &Failure{Identity: identity, Kind: KindBanVerifyFailure,
			Reason: "Ban verification failed - user not found in ban list"}
	case err != nil:
		return &Failure{Identity: identity, Kind: KindBanVerifyFailure,
			Reason: fmt.Sprintf("Ban verification failed: %v", err)}
	}
	return nil
}

func (e *Engine) hasCapability(ctx context.Context, communityID string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	ok, err := e.api.HasBanCapability(callCtx, communityID)
	if err != nil {
		if isTimeout(err) {
			return false, newError(KindExternalTimeout, "capability check timed out", err)
		}
		return false, newError(KindPermissionDenied, "capability check failed", err)
	}
	return ok, nil
}

// notificationChannel returns the first blacklist channel, or "" when none
// exists or the listing failed.
func (e *Engine) notificationChannel(ctx context.Context, communityID string) string {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	channels, err := e.api.ListTextChannels(callCtx, communityID)
	if err != nil {
		e.logger.WarnContext(ctx, "list channels failed", "community_id", communityID, "error", err)
		return ""
	}
	matched := e.channels.Select(channels)
	if len(matched) == 0 {
		return ""
	}
	return matched[0].ID
}

// SyncAll runs SyncCommunity for every community the bot can see, at most
// WithConcurrency at a time. Outcomes are in community order.
func (e *Engine) SyncAll(ctx context.Context, requesterID string, progress Progress) ([]Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	communities, err := e.api.Communities(callCtx)
	cancel()
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindExternalTimeout, "list communities timed out", err)
		}
		return nil, fmt.Errorf("list communities: %w", err)
	}

	outcomes := make([]Outcome, len(communities))
	var mu sync.Mutex
	safeProgress := func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range communities {
		g.Go(func() error {
			outcomes[i] = e.SyncCommunity(gctx, c.ID, requesterID, safeProgress)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (e *Engine) report(ctx context.Context, requesterID string, out Outcome) {
	var action audit.AuditEvent
	switch out.Kind {
	case OutcomeCompleted:
		action = audit.EventSyncCompleted
	case OutcomeSkip:
		action = audit.EventSyncSkipped
	case OutcomeCancelled:
		action = audit.EventSyncCancelled
	case OutcomePermissionDenied:
		action = audit.EventSyncDenied
	default:
		e.logger.InfoContext(ctx, "sync finished",
			"community_id", out.CommunityID,
			"outcome", string(out.Kind),
			"run_id", out.RunID,
			"error", out.Err,
		)
		return
	}
	audit.LogAudit(ctx, e.logger, e.auditor, audit.Event{
		Action:      string(action),
		ActorID:     requesterID,
		CommunityID: out.CommunityID,
		Decision:    fmt.Sprintf("%d/%d", out.Succeeded, out.Attempted),
		Reason:      out.Reason,
		RunID:       out.RunID,
	},
		"fingerprint", out.Fingerprint,
		"failed", out.Failed,
		"recorded", out.Recorded,
		"duration", out.Duration,
	)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
