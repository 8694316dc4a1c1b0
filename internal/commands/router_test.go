package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"bansync/internal/blacklist/models"
	"bansync/internal/blacklist/service"
	"bansync/internal/evidence"
	"bansync/internal/guildconfig"
	"bansync/internal/moderation"
	"bansync/internal/platform/metrics"
	"bansync/internal/syncengine"
	"bansync/internal/syncstate"
	"bansync/pkg/platform/sentinel"
)

// =============================================================================
// Command Router Test Suite
// =============================================================================
// Justification for unit tests: the router owns authorization gates and the
// operator-facing wording. Services are replaced by fakes and replies are
// captured by a recording responder.

type recordingResponder struct {
	deferred    bool
	replies     []Response
	followups   []Response
	followupErr error
}

func (r *recordingResponder) Defer(context.Context) error {
	r.deferred = true
	return nil
}

func (r *recordingResponder) Reply(_ context.Context, resp Response) error {
	r.replies = append(r.replies, resp)
	return nil
}

func (r *recordingResponder) Followup(_ context.Context, resp Response) error {
	if r.followupErr != nil {
		return r.followupErr
	}
	r.followups = append(r.followups, resp)
	return nil
}

func (r *recordingResponder) lastReply() string {
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1].Content
}

type fakeSyncer struct {
	outcome  syncengine.Outcome
	outcomes []syncengine.Outcome
	allErr   error
	calls    int
}

func (f *fakeSyncer) SyncCommunity(_ context.Context, communityID, _ string, progress syncengine.Progress) syncengine.Outcome {
	f.calls++
	out := f.outcome
	out.CommunityID = communityID
	if out.Kind == syncengine.OutcomeCompleted {
		progress(syncengine.ProgressEvent{Kind: syncengine.ProgressStarted, Total: out.Attempted})
		for i := 1; i <= out.Attempted; i++ {
			progress(syncengine.ProgressEvent{Kind: syncengine.ProgressAttempted, Index: i, Total: out.Attempted, Succeeded: i})
		}
	}
	progress(syncengine.ProgressEvent{Kind: syncengine.ProgressFinished, Outcome: &out})
	return out
}

func (f *fakeSyncer) SyncAll(_ context.Context, _ string, progress syncengine.Progress) ([]syncengine.Outcome, error) {
	if f.allErr != nil {
		return nil, f.allErr
	}
	for i := range f.outcomes {
		progress(syncengine.ProgressEvent{Kind: syncengine.ProgressFinished, Outcome: &f.outcomes[i]})
	}
	return f.outcomes, nil
}

type fakeBlacklist struct {
	entries []models.Entry
	added   []service.AddRequest
	addErr  error
	exempt  map[string]bool
	removed []string
}

func (f *fakeBlacklist) Add(_ context.Context, req service.AddRequest) (service.AddResult, error) {
	if f.addErr != nil {
		return service.AddResult{}, f.addErr
	}
	f.added = append(f.added, req)
	if f.exempt[req.Identity] {
		return service.AddResult{Entry: models.Entry{Identity: req.Identity, Reason: req.Reason}, Exempt: true}, nil
	}
	return service.AddResult{
		Entry:  models.Entry{Identity: req.Identity, Reason: req.Reason},
		Banned: []string{"g1", "g2"},
	}, nil
}

func (f *fakeBlacklist) Remove(_ context.Context, _, identity string) (service.RemoveResult, error) {
	for _, e := range f.entries {
		if e.Identity == identity {
			f.removed = append(f.removed, identity)
			return service.RemoveResult{Entry: e}, nil
		}
	}
	return service.RemoveResult{}, fmt.Errorf("blacklist entry %s: %w", identity, sentinel.ErrNotFound)
}

func (f *fakeBlacklist) List(context.Context) ([]models.Entry, error) {
	return f.entries, nil
}

func (f *fakeBlacklist) Search(_ context.Context, q string) []models.Entry {
	var out []models.Entry
	for _, e := range f.entries {
		if e.DisplayName == q {
			out = append(out, e)
		}
	}
	return out
}

type fakeWhitelist struct {
	members  map[string]bool
	override string
}

func (f *fakeWhitelist) Contains(_ context.Context, id string) bool {
	return id == f.override || f.members[id]
}

func (f *fakeWhitelist) Members(context.Context) []string {
	var out []string
	for id := range f.members {
		out = append(out, id)
	}
	return out
}

func (f *fakeWhitelist) Add(_ context.Context, actor, id string) error {
	if actor != f.override {
		return sentinel.ErrForbidden
	}
	f.members[id] = true
	return nil
}

func (f *fakeWhitelist) Remove(_ context.Context, actor, id string) error {
	if actor != f.override {
		return sentinel.ErrForbidden
	}
	if !f.members[id] {
		return sentinel.ErrNotFound
	}
	delete(f.members, id)
	return nil
}

type fakeModeration struct {
	result moderation.WarnResult
	status moderation.Status
	clears int
}

func (f *fakeModeration) Warn(context.Context, string, string, string, string) (moderation.WarnResult, error) {
	return f.result, nil
}

func (f *fakeModeration) Warns(context.Context, string, string) moderation.Status {
	return f.status
}

func (f *fakeModeration) Clear(context.Context, string, string, string) {
	f.clears++
}

type fakeViewer struct {
	dir   string
	paths []string
	err   error
}

func (f *fakeViewer) View(context.Context, string) (string, []string, error) {
	return f.dir, f.paths, f.err
}

type fakeStatus struct {
	records map[string]syncstate.Record
}

func (f *fakeStatus) Details(_ context.Context, id string) (syncstate.Record, bool) {
	rec, ok := f.records[id]
	return rec, ok
}

type fakeLinks struct{}

func (fakeLinks) Link(communityID, _ string) (string, time.Time, error) {
	return "https://bot.example/config/" + communityID + "?token=t", time.Unix(1700000000, 0), nil
}

type fakeConfigs map[string]guildconfig.Config

func (f fakeConfigs) Load(id string) (guildconfig.Config, error) {
	return f[id], nil
}

type fakeNotifier struct {
	posts   map[string][]string
	dms     map[string][]string
	failing map[string]bool
}

func (f *fakeNotifier) SendText(_ context.Context, channelID, text string) error {
	if f.failing[channelID] {
		return errors.New("missing access")
	}
	f.posts[channelID] = append(f.posts[channelID], text)
	return nil
}

func (f *fakeNotifier) DirectMessage(_ context.Context, userID, text string) error {
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

type RouterSuite struct {
	suite.Suite
	ctx        context.Context
	syncer     *fakeSyncer
	blacklist  *fakeBlacklist
	whitelist  *fakeWhitelist
	moderation *fakeModeration
	viewer     *fakeViewer
	notifier   *fakeNotifier
	metrics    *metrics.Metrics
	router     *Router
	resp       *recordingResponder
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.syncer = &fakeSyncer{}
	s.blacklist = &fakeBlacklist{}
	s.whitelist = &fakeWhitelist{members: map[string]bool{"op": true}, override: "root"}
	s.moderation = &fakeModeration{}
	s.viewer = &fakeViewer{}
	s.notifier = &fakeNotifier{posts: map[string][]string{}, dms: map[string][]string{}, failing: map[string]bool{}}
	s.metrics = metrics.New(prometheus.NewRegistry())

	router, err := New(Deps{
		Syncer:     s.syncer,
		Blacklist:  s.blacklist,
		Whitelist:  s.whitelist,
		Moderation: s.moderation,
		Evidence:   s.viewer,
		SyncStatus: &fakeStatus{records: map[string]syncstate.Record{
			"g1": {CommunityID: "g1", Fingerprint: "abcdef0123456789", AppliedCount: 3, NotificationChannelID: "c1"},
		}},
		Links:    fakeLinks{},
		Configs: fakeConfigs{
			"g1": {LogToChannel: true, LogChannelID: "log"},
			"g2": {LogToChannel: true},
		},
		Notifier: s.notifier,
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMetrics(s.metrics), WithDebugUser("dev"))
	s.Require().NoError(err)
	s.router = router
	s.resp = &recordingResponder{}
}

func (s *RouterSuite) handle(req Request) error {
	if req.ActorID == "" {
		req.ActorID = "op"
	}
	if req.Options == nil {
		req.Options = map[string]string{}
	}
	return s.router.Handle(s.ctx, req, s.resp)
}

func (s *RouterSuite) TestNewRequiresServices() {
	_, err := New(Deps{})
	s.Error(err)
}

func (s *RouterSuite) TestUnknownCommand() {
	s.Require().NoError(s.handle(Request{Name: "nope"}))
	s.Equal("Unknown command.", s.resp.lastReply())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CommandsHandled.WithLabelValues("nope", "unknown")))
}

func (s *RouterSuite) TestNonWhitelistedActorIsRefused() {
	s.Require().NoError(s.handle(Request{Name: CmdSyncBans, ActorID: "stranger", CommunityID: "g1"}))
	s.Equal(msgNotWhitelisted, s.resp.lastReply())
	s.Zero(s.syncer.calls)
}

func (s *RouterSuite) TestSyncBansOutsideCommunity() {
	s.Require().NoError(s.handle(Request{Name: CmdSyncBans}))
	s.Equal(msgNoDMs, s.resp.lastReply())
}

func (s *RouterSuite) TestSyncBansCompleted() {
	s.syncer.outcome = syncengine.Outcome{Kind: syncengine.OutcomeCompleted, Attempted: 2, Succeeded: 2}
	s.Require().NoError(s.handle(Request{Name: CmdSyncBans, CommunityID: "g1"}))

	s.True(s.resp.deferred)
	s.Equal("Starting sync process for 2 users...", s.resp.replies[0].Content)
	s.Contains(s.resp.replies[2].Content, "Progress: 2/2")
	s.Equal("Sync process completed!", s.resp.lastReply())
	s.Require().Len(s.resp.followups, 1)
	s.Contains(s.resp.followups[0].Content, "Successfully banned in 2/2 attempts")
	s.Len(s.notifier.posts["log"], 1)
}

func (s *RouterSuite) TestSyncBansSkipRepliesWithSummary() {
	s.syncer.outcome = syncengine.Outcome{Kind: syncengine.OutcomeSkip, ChannelID: "c1", AppliedCount: 4}
	s.Require().NoError(s.handle(Request{Name: CmdSyncBans, CommunityID: "g1"}))
	s.Contains(s.resp.lastReply(), "already up to date")
	s.Empty(s.resp.followups)
}

func (s *RouterSuite) TestSyncSummaryFallsBackToChannel() {
	s.syncer.outcome = syncengine.Outcome{Kind: syncengine.OutcomeCompleted, Attempted: 1, Succeeded: 1}
	s.resp.followupErr = errors.New("unknown webhook")
	s.Require().NoError(s.handle(Request{Name: CmdSyncBans, CommunityID: "g1", ChannelID: "here"}))
	s.Require().Len(s.notifier.posts["here"], 1)
	s.Contains(s.notifier.posts["here"][0], "<@op> Sync complete!")
}

func (s *RouterSuite) TestSyncAll() {
	s.syncer.outcomes = []syncengine.Outcome{
		{CommunityID: "g1", Kind: syncengine.OutcomeCompleted, Attempted: 2, Succeeded: 1, Failed: 1},
		{CommunityID: "g2", Kind: syncengine.OutcomeSkip},
		{CommunityID: "g3", Kind: syncengine.OutcomePermissionDenied, Reason: "bot lacks ban permission in this community"},
	}
	s.Require().NoError(s.handle(Request{Name: CmdSyncAll}))
	s.Require().Len(s.resp.followups, 1)
	summary := s.resp.followups[0].Content
	s.Contains(summary, "g1: completed, 1/2 banned, 1 failed")
	s.Contains(summary, "g2: already up to date")
	s.Contains(summary, "g3: Permission denied: bot lacks ban permission")
}

func (s *RouterSuite) TestSyncStatus() {
	s.Require().NoError(s.handle(Request{Name: CmdSyncStatus, CommunityID: "g1"}))
	s.Require().Len(s.resp.replies[0].Messages, 1)
	s.Equal("3", s.resp.replies[0].Messages[0].Fields[1].Value)

	s.resp = &recordingResponder{}
	s.Require().NoError(s.handle(Request{Name: CmdSyncStatus, CommunityID: "g9"}))
	s.Equal("This community has never been synced.", s.resp.lastReply())
}

func (s *RouterSuite) TestBlacklist() {
	att := []evidence.Attachment{{URL: "https://cdn/a.png"}}
	err := s.handle(Request{
		Name:        CmdBlacklist,
		CommunityID: "g1",
		Options:     map[string]string{OptUser: "42", OptReason: "raid"},
		Users:       map[string]string{"42": "mallory"},
		Attachments: att,
	})
	s.Require().NoError(err)
	s.Require().Len(s.blacklist.added, 1)
	s.Equal("mallory", s.blacklist.added[0].DisplayName)
	s.Equal(att, s.blacklist.added[0].Attachments)
	s.Contains(s.resp.lastReply(), "User has been blacklisted!")
	s.Contains(s.resp.lastReply(), "Banned in 2 communities.")
	s.Len(s.notifier.posts["log"], 1)
}

func (s *RouterSuite) TestBlacklistWhitelistedUser() {
	s.blacklist.exempt = map[string]bool{"42": true}
	err := s.handle(Request{Name: CmdBlacklist, CommunityID: "g1", Options: map[string]string{OptUser: "42"}})
	s.Require().NoError(err)
	s.Contains(s.resp.lastReply(), "User is whitelisted, so no bans were applied.")
	s.NotContains(s.resp.lastReply(), "Banned in")
}

func (s *RouterSuite) TestActionLogFailuresReachDebugUser() {
	s.Require().NoError(s.handle(Request{Name: CmdBlacklist, CommunityID: "g2", Options: map[string]string{OptUser: "42"}}))
	s.Require().Len(s.notifier.dms["dev"], 1)
	s.Contains(s.notifier.dms["dev"][0], "no log channel set")

	s.notifier.failing["log"] = true
	s.Require().NoError(s.handle(Request{Name: CmdBlacklist, CommunityID: "g1", Options: map[string]string{OptUser: "43"}}))
	s.Require().Len(s.notifier.dms["dev"], 2)
	s.Contains(s.notifier.dms["dev"][1], "Could not post to log channel log")
}

func (s *RouterSuite) TestBlacklistDuplicate() {
	s.blacklist.addErr = service.ErrAlreadyBlacklisted
	s.Require().NoError(s.handle(Request{Name: CmdBlacklist, Options: map[string]string{OptUser: "42"}}))
	s.Equal("User <@42> is already blacklisted.", s.resp.lastReply())
}

func (s *RouterSuite) TestUnblacklist() {
	s.Require().NoError(s.handle(Request{Name: CmdUnblacklist, Options: map[string]string{OptUser: "42"}}))
	s.Equal("User <@42> is not blacklisted.", s.resp.lastReply())

	s.blacklist.entries = []models.Entry{{Identity: "42"}}
	s.Require().NoError(s.handle(Request{Name: CmdUnblacklist, Options: map[string]string{OptUser: "42"}}))
	s.Equal("User <@42> has been removed from the blacklist.", s.resp.lastReply())
}

func (s *RouterSuite) TestWhitelistMutation() {
	s.Run("only the override may add", func() {
		s.Require().NoError(s.handle(Request{Name: CmdWhitelist, Options: map[string]string{OptUser: "7"}}))
		s.Equal(msgWhitelistDenied, s.resp.lastReply())
	})
	s.Run("override adds and removes", func() {
		s.Require().NoError(s.handle(Request{Name: CmdWhitelist, ActorID: "root", Options: map[string]string{OptUser: "7"}}))
		s.Equal("User <@7> has been added to the whitelist.", s.resp.lastReply())
		s.Require().NoError(s.handle(Request{Name: CmdUnwhitelist, ActorID: "root", Options: map[string]string{OptUser: "7"}}))
		s.Equal("User <@7> has been removed from the whitelist.", s.resp.lastReply())
		s.Require().NoError(s.handle(Request{Name: CmdUnwhitelist, ActorID: "root", Options: map[string]string{OptUser: "7"}}))
		s.Equal("User <@7> is not whitelisted.", s.resp.lastReply())
	})
}

func (s *RouterSuite) TestListPaginates() {
	s.Require().NoError(s.handle(Request{Name: CmdList}))
	s.Equal(msgNoBlacklisted, s.resp.lastReply())

	for i := range 12 {
		s.blacklist.entries = append(s.blacklist.entries, models.Entry{Identity: fmt.Sprint(i)})
	}
	s.resp = &recordingResponder{}
	s.Require().NoError(s.handle(Request{Name: CmdList}))
	s.Require().Len(s.resp.replies, 1)
	s.Len(s.resp.replies[0].Messages, 10)
	s.Require().Len(s.resp.followups, 1)
	s.Len(s.resp.followups[0].Messages, 2)
	s.Equal(12.0, testutil.ToFloat64(s.metrics.BlacklistSize))
}

func (s *RouterSuite) TestListWhitelist() {
	s.Require().NoError(s.handle(Request{Name: CmdListWhitelist}))
	s.Require().Len(s.resp.replies[0].Messages, 1)
	s.Equal("<@op>", s.resp.replies[0].Messages[0].Fields[0].Value)
}

func (s *RouterSuite) TestSearch() {
	s.blacklist.entries = []models.Entry{{Identity: "1", DisplayName: "mallory"}}
	s.Require().NoError(s.handle(Request{Name: CmdSearch, Options: map[string]string{OptPattern: "eve"}}))
	s.Equal("No blacklisted user found with the pattern `eve`", s.resp.lastReply())

	s.Require().NoError(s.handle(Request{Name: CmdSearch, Options: map[string]string{OptPattern: "mallory"}}))
	s.Len(s.resp.replies[len(s.resp.replies)-1].Messages, 1)
}

func (s *RouterSuite) TestWarn() {
	s.moderation.result = moderation.WarnResult{
		Status:   moderation.Status{Warns: 0, Instances: 2},
		TimedOut: true,
		Duration: time.Hour,
	}
	s.Require().NoError(s.handle(Request{Name: CmdWarn, ActorID: "mod", CommunityID: "g1",
		Options: map[string]string{OptUser: "9", OptReason: "spam"}}))
	msgs := s.resp.replies[0].Messages
	s.Require().Len(msgs, 2)
	s.Equal("User Timed Out", msgs[0].Title)
	s.Contains(msgs[0].Description, "1 hour")
	s.Equal("User Warned", msgs[1].Title)
}

func (s *RouterSuite) TestWarnsAndClear() {
	s.moderation.status = moderation.Status{Warns: 2, Instances: 1}
	s.Require().NoError(s.handle(Request{Name: CmdWarns, CommunityID: "g1",
		Options: map[string]string{OptUser: "9"}, Users: map[string]string{"9": "eve"}}))
	msg := s.resp.replies[0].Messages[0]
	s.Equal("Warning Information for eve", msg.Title)
	s.Equal("2", msg.Fields[0].Value)

	s.Require().NoError(s.handle(Request{Name: CmdClearWarns, CommunityID: "g1", Options: map[string]string{OptUser: "9"}}))
	s.Equal(1, s.moderation.clears)
}

func (s *RouterSuite) TestConfigLink() {
	s.Require().NoError(s.handle(Request{Name: CmdConfig, CommunityID: "g1"}))
	s.Contains(s.resp.lastReply(), "https://bot.example/config/g1?token=t")
	s.Contains(s.resp.lastReply(), "<t:1700000000:R>")
}

func (s *RouterSuite) TestViewImages() {
	s.Run("sends the downloaded files and removes them", func() {
		dir := s.T().TempDir()
		path := filepath.Join(dir, "a.png")
		s.Require().NoError(os.WriteFile(path, []byte("png"), 0o600))
		s.viewer.dir, s.viewer.paths = dir, []string{path}

		s.Require().NoError(s.handle(Request{Name: "view_images_direct:folder-1", Component: true}))
		s.Require().Len(s.resp.followups, 1)
		s.Equal([]File{{Name: "a.png", Path: path}}, s.resp.followups[0].Files)
		_, err := os.Stat(dir)
		s.True(os.IsNotExist(err))
	})

	s.Run("empty folder", func() {
		s.resp = &recordingResponder{}
		s.viewer.err = evidence.ErrNoImages
		s.Require().NoError(s.handle(Request{Name: "view_images_direct:folder-1", Component: true}))
		s.Equal(msgNoImages, s.resp.followups[0].Content)
	})
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		5 * time.Minute: "5 minutes",
		time.Hour:       "1 hour",
		24 * time.Hour:  "1 day",
		48 * time.Hour:  "2 days",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Errorf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
