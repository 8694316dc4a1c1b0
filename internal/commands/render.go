package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bansync/internal/blacklist/models"
	"bansync/internal/chat"
	"bansync/internal/moderation"
	"bansync/internal/syncstate"
)

const (
	msgNotWhitelisted   = "You are not whitelisted!"
	msgNoDMs            = "This command cannot be used in DMs."
	msgWhitelistDenied  = "You are not authorized to modify the whitelist."
	msgNoBlacklisted    = "There are no blacklisted users."
	msgNoWhitelisted    = "There are no whitelisted users."
	msgNoImages         = "No images found in the folder."
	msgStoreUnavailable = "The database is unavailable. Try again later."

	// maxMessagesPerReply is the platform's embed limit for one message.
	maxMessagesPerReply = 10
	whitelistPageSize   = 10
)

func entryMessage(e models.Entry) chat.Message {
	proof := "N/A"
	if e.EvidenceLink != "" {
		proof = fmt.Sprintf("[Click Here](%s)", e.EvidenceLink)
	}
	msg := chat.Message{
		Title:       "Blacklisted User: " + orNA(e.DisplayName),
		Description: "Here's some detailed information about the user:",
		Fields: []chat.Field{
			{Name: "User ID", Value: "`" + e.Identity + "`", Inline: true},
			{Name: "Reason", Value: "*" + orNA(e.Reason) + "*"},
			{Name: "Proof Link", Value: proof},
		},
	}
	if e.EvidenceFolderID != "" {
		msg.Fields = append(msg.Fields, chat.Field{Name: "Folder ID", Value: "`" + e.EvidenceFolderID + "`", Inline: true})
	}
	return msg
}

func entryMessages(entries []models.Entry) []chat.Message {
	out := make([]chat.Message, len(entries))
	for i, e := range entries {
		out[i] = entryMessage(e)
	}
	return out
}

func whitelistMessages(members []string) []chat.Message {
	var out []chat.Message
	for i := 0; i < len(members); i += whitelistPageSize {
		end := min(i+whitelistPageSize, len(members))
		lines := make([]string, 0, end-i)
		for _, id := range members[i:end] {
			lines = append(lines, mention(id))
		}
		out = append(out, chat.Message{
			Title:       fmt.Sprintf("Whitelisted Users (Page %d)", i/whitelistPageSize+1),
			Description: "Here's a list of all whitelisted users:",
			Fields:      []chat.Field{{Name: "Users", Value: strings.Join(lines, "\n")}},
		})
	}
	return out
}

func warnMessage(userID, reason string, res moderation.WarnResult) chat.Message {
	return chat.Message{
		Title:       "User Warned",
		Description: fmt.Sprintf("%s has been warned for: %s", mention(userID), reason),
		Fields: []chat.Field{
			{Name: "Current Warn Count", Value: strconv.FormatInt(res.Warns, 10), Inline: true},
			{Name: "Current Warning Instance", Value: strconv.FormatInt(res.Instances, 10), Inline: true},
		},
		Footer: fmt.Sprintf("At %d warnings, the user will be timed out.", moderation.WarnThreshold),
	}
}

func timeoutMessage(userID string, d time.Duration) chat.Message {
	return chat.Message{
		Title: "User Timed Out",
		Description: fmt.Sprintf("%s has been timed out for %s due to reaching %d warnings.",
			mention(userID), humanDuration(d), moderation.WarnThreshold),
	}
}

func warnsMessage(name string, st moderation.Status) chat.Message {
	return chat.Message{
		Title: "Warning Information for " + name,
		Fields: []chat.Field{
			{Name: "Current Warn Count", Value: strconv.FormatInt(st.Warns, 10), Inline: true},
			{Name: "Total Warning Instances", Value: strconv.FormatInt(st.Instances, 10), Inline: true},
		},
	}
}

func syncStatusMessage(rec syncstate.Record) chat.Message {
	synced := "unknown"
	if !rec.SyncedAt.IsZero() {
		synced = rec.SyncedAt.UTC().Format(time.RFC1123)
	}
	return chat.Message{
		Title: "Sync Status",
		Fields: []chat.Field{
			{Name: "Channel ID", Value: orNA(rec.NotificationChannelID), Inline: true},
			{Name: "Users Synced", Value: strconv.Itoa(rec.AppliedCount), Inline: true},
			{Name: "Last Sync", Value: synced},
			{Name: "Fingerprint", Value: "`" + shortFingerprint(rec.Fingerprint) + "`"},
		},
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// humanDuration renders the timeout ladder the way moderators phrase it.
func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return d.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// chunk splits messages into groups the platform accepts in one reply.
func chunk(msgs []chat.Message) [][]chat.Message {
	var out [][]chat.Message
	for i := 0; i < len(msgs); i += maxMessagesPerReply {
		out = append(out, msgs[i:min(i+maxMessagesPerReply, len(msgs))])
	}
	return out
}
