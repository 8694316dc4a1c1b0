// Package chat holds the platform-neutral shapes exchanged with the chat
// platform adapter.
package chat

import (
	"errors"
	"regexp"
	"time"
)

// ErrBanNotFound is returned by FetchBan adapters that report a missing ban as
// an error rather than false.
var ErrBanNotFound = errors.New("ban not found")

// Community is a server the bot is a member of.
type Community struct {
	ID   string
	Name string
}

// Channel is a text channel inside a community.
type Channel struct {
	ID   string
	Name string
}

// Field is one name/value row of a rich message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Button is a link or action button attached to a rich message.
type Button struct {
	Label    string
	URL      string
	CustomID string
}

// Message is a rich announcement posted to a channel.
type Message struct {
	Title       string
	Description string
	Fields      []Field
	Buttons     []Button
	Footer      string
	Timestamp   time.Time
}

// DefaultChannelPattern selects blacklist announcement channels.
const DefaultChannelPattern = `(?i).*blacklist*.`

// ChannelMatcher picks the channels blacklist announcements go to.
type ChannelMatcher struct {
	re *regexp.Regexp
}

// NewChannelMatcher compiles pattern. An empty pattern uses
// DefaultChannelPattern.
func NewChannelMatcher(pattern string) (*ChannelMatcher, error) {
	if pattern == "" {
		pattern = DefaultChannelPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &ChannelMatcher{re: re}, nil
}

// Match reports whether name is a blacklist channel.
func (m *ChannelMatcher) Match(name string) bool {
	if name == "blacklist" || name == "blacklists" {
		return true
	}
	return m.re.MatchString(name)
}

// Select returns the matching channels in the order given.
func (m *ChannelMatcher) Select(channels []Channel) []Channel {
	var out []Channel
	for _, c := range channels {
		if m.Match(c.Name) {
			out = append(out, c)
		}
	}
	return out
}
