// Package moderation tracks per-community warnings and escalates to timeouts.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"bansync/internal/kvstore"
	audit "bansync/pkg/platform/audit"
	"bansync/pkg/platform/sentinel"
)

const (
	fieldWarns     = "warns"
	fieldInstances = "instances"

	// WarnThreshold warnings trigger a timeout and reset the counter.
	WarnThreshold = 3
)

var ErrStoreUnavailable = fmt.Errorf("warnings %w", sentinel.ErrUnavailable)

// Timeouter applies a platform timeout to a member.
type Timeouter interface {
	Timeout(ctx context.Context, communityID, userID string, until time.Time) error
}

// Status is a user's warning state in one community.
type Status struct {
	Warns     int64
	Instances int64
}

// WarnResult reports what a warning did.
type WarnResult struct {
	Status
	TimedOut bool
	Duration time.Duration
	Until    time.Time
	// TimeoutErr is set when the threshold was reached but the platform
	// refused the timeout. The counters are updated regardless.
	TimeoutErr error
}

type Service struct {
	kv        *kvstore.Store
	timeouter Timeouter
	clock     clockwork.Clock
	logger    *slog.Logger
	auditor   audit.Emitter
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
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

func New(kv *kvstore.Store, timeouter Timeouter, opts ...Option) (*Service, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if timeouter == nil {
		return nil, errors.New("timeouter is required")
	}
	s := &Service{
		kv:        kv,
		timeouter: timeouter,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func key(communityID, userID string) string {
	return communityID + ":" + userID
}

// TimeoutFor returns the timeout applied for the given instance number.
func TimeoutFor(instance int64) time.Duration {
	switch {
	case instance <= 1:
		return 5 * time.Minute
	case instance == 2:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Warn records a warning. Every WarnThreshold-th warning opens a new
// instance, times the user out and resets the warning counter.
func (s *Service) Warn(ctx context.Context, actorID, communityID, userID, reason string) (WarnResult, error) {
	k := key(communityID, userID)
	warns, ok := s.kv.IncrField(ctx, kvstore.PartitionWarnings, k, fieldWarns, 1)
	if !ok {
		return WarnResult{}, ErrStoreUnavailable
	}
	res := WarnResult{Status: Status{Warns: warns, Instances: s.read(ctx, k).Instances}}

	audit.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Action:      string(audit.EventUserWarned),
		ActorID:     actorID,
		Subject:     userID,
		CommunityID: communityID,
		Reason:      reason,
	}, "warns", warns)

	if warns < WarnThreshold {
		return res, nil
	}

	instances, ok := s.kv.IncrField(ctx, kvstore.PartitionWarnings, k, fieldInstances, 1)
	if !ok {
		return res, ErrStoreUnavailable
	}
	if _, ok := s.kv.IncrField(ctx, kvstore.PartitionWarnings, k, fieldWarns, -warns); !ok {
		return res, ErrStoreUnavailable
	}
	res.Instances = instances
	res.Duration = TimeoutFor(instances)
	res.Until = s.clock.Now().UTC().Add(res.Duration)
	res.TimedOut = true

	if err := s.timeouter.Timeout(ctx, communityID, userID, res.Until); err != nil {
		s.logger.WarnContext(ctx, "timeout failed",
			"community_id", communityID, "user_id", userID, "error", err)
		res.TimedOut = false
		res.TimeoutErr = err
		return res, nil
	}
	audit.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Action:      string(audit.EventUserTimedOut),
		ActorID:     actorID,
		Subject:     userID,
		CommunityID: communityID,
		Reason:      reason,
	}, "instance", instances, "duration", res.Duration.String())
	return res, nil
}

// Warns returns the current state. Unknown users read as zero.
func (s *Service) Warns(ctx context.Context, communityID, userID string) Status {
	return s.read(ctx, key(communityID, userID))
}

// Clear removes both counters.
func (s *Service) Clear(ctx context.Context, actorID, communityID, userID string) {
	s.kv.Delete(ctx, kvstore.PartitionWarnings, key(communityID, userID))
	audit.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Action:      string(audit.EventWarningsCleared),
		ActorID:     actorID,
		Subject:     userID,
		CommunityID: communityID,
	})
}

func (s *Service) read(ctx context.Context, k string) Status {
	fields := s.kv.Get(ctx, kvstore.PartitionWarnings, k)
	return Status{
		Warns:     parseCount(fields[fieldWarns]),
		Instances: parseCount(fields[fieldInstances]),
	}
}

func parseCount(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
