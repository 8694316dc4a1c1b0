package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bansync/internal/blacklist/models"
	"bansync/internal/blacklist/store"
	"bansync/internal/chat"
	"bansync/internal/kvstore"
	"bansync/internal/syncengine/mocks"
	"bansync/internal/syncstate"
	"bansync/internal/whitelist"
)

// =============================================================================
// Engine Test Suite
// =============================================================================
// Justification for unit tests: the engine's idempotence, exemption and
// partial-failure rules decide which users get banned in which community.
// The platform is mocked; the stores are the real adapters over memory.

const (
	operator  = "708812851229229208"
	community = "guild-1"
)

type EngineSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	api       *mocks.MockBanAPI
	kv        *kvstore.Store
	blacklist *store.Store
	tracker   *syncstate.Tracker
	whitelist *whitelist.Whitelist
	pacer     *countingThrottle
	metrics   *Metrics
	engine    *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.api = mocks.NewMockBanAPI(s.ctrl)

	var err error
	s.kv, err = kvstore.New(kvstore.NewMemoryBackend())
	s.Require().NoError(err)
	s.blacklist, err = store.New(s.kv)
	s.Require().NoError(err)
	s.tracker, err = syncstate.New(s.kv)
	s.Require().NoError(err)
	s.whitelist, err = whitelist.New(s.kv, operator)
	s.Require().NoError(err)

	s.pacer = &countingThrottle{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.engine = s.newEngine()
}

func (s *EngineSuite) newEngine(opts ...Option) *Engine {
	base := []Option{WithPacer(s.pacer), WithMetrics(s.metrics), WithCallTimeout(time.Second)}
	e, err := New(s.api, s.blacklist, s.tracker, s.whitelist, append(base, opts...)...)
	s.Require().NoError(err)
	return e
}

func (s *EngineSuite) addEntry(id string) {
	s.Require().NoError(s.blacklist.Save(s.ctx, models.Entry{
		Identity:    id,
		DisplayName: "user-" + id,
		Reason:      "spam",
	}))
}

func (s *EngineSuite) expectCapable() {
	s.api.EXPECT().HasBanCapability(gomock.Any(), community).Return(true, nil).AnyTimes()
	s.api.EXPECT().ListTextChannels(gomock.Any(), community).Return([]chat.Channel{
		{ID: "c-general", Name: "general"},
		{ID: "c-bl", Name: "blacklist"},
	}, nil).AnyTimes()
}

func (s *EngineSuite) expectBanOK(id string) {
	s.api.EXPECT().Ban(gomock.Any(), community, id, DefaultBanReason).Return(nil)
	s.api.EXPECT().FetchBan(gomock.Any(), community, id).Return(true, nil)
}

func (s *EngineSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.blacklist, s.tracker, s.whitelist)
	s.Error(err)
	_, err = New(s.api, nil, s.tracker, s.whitelist)
	s.Error(err)
	_, err = New(s.api, s.blacklist, nil, s.whitelist)
	s.Error(err)
	_, err = New(s.api, s.blacklist, s.tracker, nil)
	s.Error(err)
}

func (s *EngineSuite) TestPermissionDenied() {
	s.Run("requester not whitelisted makes no platform calls", func() {
		s.addEntry("A")
		out := s.engine.SyncCommunity(s.ctx, community, "stranger", nil)
		s.Equal(OutcomePermissionDenied, out.Kind)
		s.Equal("requester not whitelisted", out.Reason)
		s.ErrorIs(out.Err, ErrPermissionDenied)
	})

	s.Run("bot without ban capability mutates nothing", func() {
		s.api.EXPECT().HasBanCapability(gomock.Any(), community).Return(false, nil)
		out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
		s.Equal(OutcomePermissionDenied, out.Kind)
		_, recorded := s.tracker.Details(s.ctx, community)
		s.False(recorded)
	})
}

func (s *EngineSuite) TestEmptyBlacklistIsNothingToSync() {
	s.expectCapable()
	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeNothingToSync, out.Kind)
	s.NoError(out.Err)
	_, recorded := s.tracker.Details(s.ctx, community)
	s.False(recorded)
}

func (s *EngineSuite) TestUnreadableBlacklistIsDistinguishedFromEmpty() {
	s.expectCapable()
	e, err := New(s.api, failingSnapshots{}, s.tracker, s.whitelist)
	s.Require().NoError(err)

	out := e.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeNothingToSync, out.Kind)
	s.ErrorIs(out.Err, ErrStoreUnavailable)
	s.ErrorIs(out.Err, kvstore.ErrStoreUnavailable)
	s.Equal(KindStoreUnavailable, KindOf(out.Err))
}

func (s *EngineSuite) TestSyncThenRepeatIsIdempotent() {
	s.expectCapable()
	s.addEntry("A")
	s.addEntry("B")
	s.expectBanOK("A")
	s.expectBanOK("B")

	first := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, first.Kind)
	s.Equal(2, first.Attempted)
	s.Equal(2, first.Succeeded)
	s.True(first.Recorded)
	s.Equal("c-bl", first.ChannelID)

	rec, ok := s.tracker.Details(s.ctx, community)
	s.Require().True(ok)
	s.Equal(first.Fingerprint, rec.Fingerprint)
	s.Equal(2, rec.AppliedCount)
	s.Equal("c-bl", rec.NotificationChannelID)
	s.Equal(operator, rec.RequestedBy)

	// No Ban expectations remain: any further ban call fails the test.
	second := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeSkip, second.Kind)
	s.Equal("c-bl", second.ChannelID)
	s.Equal(2, second.AppliedCount)
	s.Zero(second.Attempted)
}

func (s *EngineSuite) TestChangedBlacklistResyncs() {
	s.expectCapable()
	s.addEntry("A")
	s.addEntry("B")
	s.expectBanOK("A")
	s.expectBanOK("B")
	first := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Require().Equal(OutcomeCompleted, first.Kind)

	s.Require().NoError(s.blacklist.Delete(s.ctx, "B"))
	s.expectBanOK("A")

	second := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, second.Kind)
	s.NotEqual(first.Fingerprint, second.Fingerprint)
	s.Equal(1, second.Succeeded)

	rec, _ := s.tracker.Details(s.ctx, community)
	s.Equal(second.Fingerprint, rec.Fingerprint)
	s.Equal(1, rec.AppliedCount)
}

func (s *EngineSuite) TestWhitelistedIdentitiesAreNeverBanned() {
	s.expectCapable()
	s.addEntry("A")
	s.addEntry("B")
	s.Require().NoError(s.whitelist.Add(s.ctx, operator, "A"))
	s.expectBanOK("B")

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, out.Kind)
	s.Equal(1, out.Attempted)
	s.Equal(1, out.Succeeded)
}

func (s *EngineSuite) TestWhitelistOutageBansNoOne() {
	s.expectCapable()
	kv, err := kvstore.New(flakyMembership{MemoryBackend: kvstore.NewMemoryBackend(), failFor: "A"})
	s.Require().NoError(err)
	blacklist, err := store.New(kv)
	s.Require().NoError(err)
	tracker, err := syncstate.New(kv)
	s.Require().NoError(err)
	wl, err := whitelist.New(kv, operator)
	s.Require().NoError(err)
	s.Require().NoError(wl.Add(s.ctx, operator, "A"))
	for _, id := range []string{"A", "B"} {
		s.Require().NoError(blacklist.Save(s.ctx, models.Entry{Identity: id, DisplayName: "user-" + id}))
	}
	e, err := New(s.api, blacklist, tracker, wl, WithPacer(s.pacer))
	s.Require().NoError(err)

	// no Ban expectation: any ban call fails the test
	out := e.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeNothingToSync, out.Kind)
	s.ErrorIs(out.Err, ErrStoreUnavailable)
	s.Zero(out.Attempted)
	s.False(out.Recorded)
	_, recorded := tracker.Details(s.ctx, community)
	s.False(recorded)
	s.Equal("Sync aborted: whitelist could not be read. Try again later.", out.Summary())
}

func (s *EngineSuite) TestFailedRecordWriteIsReported() {
	s.expectCapable()
	s.addEntry("A")
	kv, err := kvstore.New(failingWrites{kvstore.NewMemoryBackend()})
	s.Require().NoError(err)
	tracker, err := syncstate.New(kv)
	s.Require().NoError(err)
	e, err := New(s.api, s.blacklist, tracker, s.whitelist, WithPacer(s.pacer))
	s.Require().NoError(err)
	s.expectBanOK("A")

	out := e.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, out.Kind)
	s.Equal(1, out.Succeeded)
	s.False(out.Recorded)
	s.False(tracker.IsSynced(s.ctx, community, out.Fingerprint))
}

func (s *EngineSuite) TestAllExempt() {
	s.expectCapable()
	s.addEntry("A")
	s.Require().NoError(s.whitelist.Add(s.ctx, operator, "A"))

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeAllExempt, out.Kind)
	_, recorded := s.tracker.Details(s.ctx, community)
	s.False(recorded)
}

func (s *EngineSuite) TestTotalFailureIsNotRecorded() {
	s.expectCapable()
	s.addEntry("A")
	s.addEntry("B")
	s.api.EXPECT().Ban(gomock.Any(), community, gomock.Any(), gomock.Any()).
		Return(errors.New("403 Forbidden")).Times(2)

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, out.Kind)
	s.Equal(0, out.Succeeded)
	s.Equal(2, out.Failed)
	s.False(out.Recorded)
	s.False(s.tracker.IsSynced(s.ctx, community, out.Fingerprint))

	// the next call attempts again instead of skipping
	s.expectBanOK("A")
	s.expectBanOK("B")
	again := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, again.Kind)
	s.Equal(2, again.Succeeded)
}

func (s *EngineSuite) TestAppliedCountIsTrueSuccesses() {
	s.expectCapable()
	for _, id := range []string{"A", "B", "C"} {
		s.addEntry(id)
	}
	s.expectBanOK("A")
	s.api.EXPECT().Ban(gomock.Any(), community, "B", gomock.Any()).Return(nil)
	s.api.EXPECT().FetchBan(gomock.Any(), community, "B").Return(false, nil)
	s.api.EXPECT().Ban(gomock.Any(), community, "C", gomock.Any()).Return(errors.New("unknown user"))

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(3, out.Attempted)
	s.Equal(1, out.Succeeded)
	s.Equal(2, out.Failed)
	s.Require().Len(out.Failures, 2)
	s.Equal(KindBanVerifyFailure, out.Failures[0].Kind)
	s.Equal("Ban verification failed - user not found in ban list", out.Failures[0].Reason)
	s.Equal(KindBanApplyFailure, out.Failures[1].Kind)

	rec, ok := s.tracker.Details(s.ctx, community)
	s.Require().True(ok)
	s.Equal(1, rec.AppliedCount)

	s.InDelta(1, testutil.ToFloat64(s.metrics.BanAttempts.WithLabelValues("success")), 0)
	s.InDelta(1, testutil.ToFloat64(s.metrics.BanAttempts.WithLabelValues(string(KindBanApplyFailure))), 0)
}

func (s *EngineSuite) TestExternalCallTimeout() {
	s.expectCapable()
	s.addEntry("A")
	s.api.EXPECT().Ban(gomock.Any(), community, "A", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		})

	e := s.newEngine(WithCallTimeout(10 * time.Millisecond))
	out := e.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(OutcomeCompleted, out.Kind)
	s.Require().Len(out.Failures, 1)
	s.Equal(KindExternalTimeout, out.Failures[0].Kind)
	s.Equal("timeout", out.Failures[0].Reason)
}

func (s *EngineSuite) TestFailureReportIsTruncated() {
	s.expectCapable()
	for i := 0; i < 12; i++ {
		s.addEntry(fmt.Sprintf("u%02d", i))
	}
	s.api.EXPECT().Ban(gomock.Any(), community, gomock.Any(), gomock.Any()).
		Return(errors.New("nope")).Times(12)

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Len(out.Failures, DefaultMaxReportedFailures)
	s.Equal(2, out.TruncatedFailures)
	s.Contains(out.Summary(), "...and 2 more failures")
	s.Contains(out.Summary(), "Successfully banned in 0/12 attempts")
}

func (s *EngineSuite) TestThrottleRunsBetweenAttemptsOnly() {
	s.expectCapable()
	for _, id := range []string{"A", "B", "C"} {
		s.addEntry(id)
		s.expectBanOK(id)
	}

	out := s.engine.SyncCommunity(s.ctx, community, operator, nil)
	s.Equal(3, out.Succeeded)
	s.EqualValues(2, s.pacer.calls.Load())
}

func (s *EngineSuite) TestCancellationStopsWithoutRecording() {
	s.expectCapable()
	for _, id := range []string{"A", "B", "C"} {
		s.addEntry(id)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.expectBanOK("A")
	s.pacer.onWait = func() { cancel() }

	out := s.engine.SyncCommunity(ctx, community, operator, nil)
	s.Equal(OutcomeCancelled, out.Kind)
	s.Equal(1, out.Succeeded)
	s.False(out.Recorded)
	s.ErrorIs(out.Err, context.Canceled)
	_, recorded := s.tracker.Details(s.ctx, community)
	s.False(recorded)
}

func (s *EngineSuite) TestProgressEvents() {
	s.expectCapable()
	s.addEntry("A")
	s.addEntry("B")
	s.expectBanOK("A")
	s.api.EXPECT().Ban(gomock.Any(), community, "B", gomock.Any()).Return(errors.New("x"))

	var events []ProgressEvent
	s.engine.SyncCommunity(s.ctx, community, operator, func(ev ProgressEvent) {
		events = append(events, ev)
	})

	s.Require().Len(events, 4)
	s.Equal(ProgressStarted, events[0].Kind)
	s.Equal(2, events[0].Total)
	s.Equal(ProgressAttempted, events[1].Kind)
	s.Nil(events[1].Failure)
	s.Equal(ProgressAttempted, events[2].Kind)
	s.NotNil(events[2].Failure)
	s.Equal(2, events[2].Index)
	s.Equal(ProgressFinished, events[3].Kind)
	s.Require().NotNil(events[3].Outcome)
	s.Equal(OutcomeCompleted, events[3].Outcome.Kind)
}

func (s *EngineSuite) TestSyncAll() {
	s.addEntry("A")
	s.api.EXPECT().Communities(gomock.Any()).Return([]chat.Community{{ID: "g1"}, {ID: "g2"}}, nil)
	for _, g := range []string{"g1", "g2"} {
		s.api.EXPECT().HasBanCapability(gomock.Any(), g).Return(true, nil)
		s.api.EXPECT().ListTextChannels(gomock.Any(), g).Return(nil, nil)
		s.api.EXPECT().Ban(gomock.Any(), g, "A", gomock.Any()).Return(nil)
		s.api.EXPECT().FetchBan(gomock.Any(), g, "A").Return(true, nil)
	}

	var mu sync.Mutex
	finished := 0
	outcomes, err := s.engine.SyncAll(s.ctx, operator, func(ev ProgressEvent) {
		if ev.Kind == ProgressFinished {
			mu.Lock()
			finished++
			mu.Unlock()
		}
	})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 2)
	s.Equal("g1", outcomes[0].CommunityID)
	s.Equal("g2", outcomes[1].CommunityID)
	for _, out := range outcomes {
		s.Equal(OutcomeCompleted, out.Kind)
		s.Empty(out.ChannelID)
	}
	s.Equal(2, finished)
	s.True(s.tracker.IsSynced(s.ctx, "g1", outcomes[0].Fingerprint))
}

func (s *EngineSuite) TestSyncAllReportsListingFailure() {
	s.api.EXPECT().Communities(gomock.Any()).Return(nil, errors.New("gateway down"))
	_, err := s.engine.SyncAll(s.ctx, operator, nil)
	s.Error(err)
}

func (s *EngineSuite) TestSummaries() {
	s.Equal("There are no blacklisted users.", Outcome{Kind: OutcomeNothingToSync}.Summary())
	s.Contains(Outcome{Kind: OutcomeSkip, ChannelID: "c", AppliedCount: 3}.Summary(), "Users Synced: 3")
	s.Contains(Outcome{Kind: OutcomeSkip}.Summary(), "Channel ID: N/A")
	s.Equal("No users to ban - all users are whitelisted.", Outcome{Kind: OutcomeAllExempt}.Summary())
}

// =============================================================================
// Test doubles
// =============================================================================

type countingThrottle struct {
	calls  atomic.Int64
	onWait func()
}

func (c *countingThrottle) Wait(ctx context.Context) error {
	c.calls.Add(1)
	if c.onWait != nil {
		c.onWait()
	}
	return ctx.Err()
}

type failingSnapshots struct{}

func (failingSnapshots) TakeSnapshot(context.Context) (store.Snapshot, error) {
	return nil, fmt.Errorf("read blacklist snapshot: %w", kvstore.ErrStoreUnavailable)
}

type flakyMembership struct {
	*kvstore.MemoryBackend
	failFor string
}

func (f flakyMembership) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if member == f.failFor {
		return false, errors.New("connection reset")
	}
	return f.MemoryBackend.SIsMember(ctx, key, member)
}

type failingWrites struct {
	*kvstore.MemoryBackend
}

func (failingWrites) HReplace(context.Context, string, map[string]string) error {
	return errors.New("connection reset")
}
