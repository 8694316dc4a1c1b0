package syncengine

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeKind is the terminal state of one community sync.
type OutcomeKind string

const (
	// OutcomeSkip means the community already holds the current fingerprint.
	OutcomeSkip OutcomeKind = "skip"
	// OutcomeNothingToSync means the blacklist is empty or could not be read.
	OutcomeNothingToSync OutcomeKind = "nothing_to_sync"
	// OutcomePermissionDenied means the requester or the bot lacks permission.
	OutcomePermissionDenied OutcomeKind = "permission_denied"
	// OutcomeAllExempt means every blacklisted identity is whitelisted.
	OutcomeAllExempt OutcomeKind = "all_exempt"
	// OutcomeCompleted means every identity was attempted.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeCancelled means the run stopped early. Nothing is recorded.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Failure is one identity the engine could not ban.
type Failure struct {
	Identity string
	Kind     ErrorKind
	Reason   string
}

func (f Failure) String() string {
	return fmt.Sprintf("User %s: %s", f.Identity, f.Reason)
}

// Outcome is the full result of SyncCommunity.
type Outcome struct {
	Kind        OutcomeKind
	CommunityID string
	RunID       string
	Fingerprint string
	// ChannelID is the notification channel resolved for this run, or the
	// stored one when skipped.
	ChannelID string
	// AppliedCount is the stored count when skipped.
	AppliedCount int

	Attempted int
	Succeeded int
	Failed    int
	// Failures holds the first reported failures; TruncatedFailures counts
	// the rest.
	Failures          []Failure
	TruncatedFailures int
	Recorded          bool

	// Reason explains PermissionDenied.
	Reason   string
	Err      error
	Duration time.Duration
}

// Summary renders the operator-facing report.
func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeSkip:
		return fmt.Sprintf("Blacklist in this community is already up to date.\nChannel ID: %s\nUsers Synced: %d",
			orNA(o.ChannelID), o.AppliedCount)
	case OutcomeNothingToSync:
		if o.Err != nil && o.Reason != "" {
			return "Sync aborted: " + o.Reason + ". Try again later."
		}
		if o.Err != nil {
			return "The blacklist could not be read. Try again later."
		}
		return "There are no blacklisted users."
	case OutcomePermissionDenied:
		return "Permission denied: " + o.Reason
	case OutcomeAllExempt:
		return "No users to ban - all users are whitelisted."
	}

	var b strings.Builder
	if o.Kind == OutcomeCancelled {
		b.WriteString("Sync cancelled.\n")
	} else {
		b.WriteString("Sync complete!\n")
	}
	fmt.Fprintf(&b, "Successfully banned in %d/%d attempts\n", o.Succeeded, o.Attempted)
	fmt.Fprintf(&b, "Failed in %d attempts\n", o.Failed)
	if len(o.Failures) > 0 {
		b.WriteString("\nFailed ban details:\n")
		for i, f := range o.Failures {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(f.String())
		}
		if o.TruncatedFailures > 0 {
			fmt.Fprintf(&b, "\n...and %d more failures", o.TruncatedFailures)
		}
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// ProgressKind tags a progress event.
type ProgressKind string

const (
	ProgressStarted   ProgressKind = "started"
	ProgressAttempted ProgressKind = "attempted"
	ProgressFinished  ProgressKind = "finished"
)

// ProgressEvent is delivered to the caller's Progress callback. Started fires
// once before the first attempt, Attempted once per identity, Finished once.
type ProgressEvent struct {
	Kind        ProgressKind
	CommunityID string
	Total       int
	Index       int
	Identity    string
	Succeeded   int
	Failed      int
	Failure     *Failure
	Outcome     *Outcome
}

// Progress receives progress events. It runs on the sync goroutine and must
// not block for long.
type Progress func(ProgressEvent)
