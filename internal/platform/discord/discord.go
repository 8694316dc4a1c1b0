// Package discord adapts a discordgo session to the chat-platform ports used
// by the sync engine, the blacklist flow and moderation.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"bansync/internal/chat"
)

// Client wraps a live discordgo session.
type Client struct {
	session *discordgo.Session
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New wraps an open session.
func New(session *discordgo.Session, opts ...Option) (*Client, error) {
	if session == nil {
		return nil, errors.New("discord session is required")
	}
	c := &Client{session: session, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session exposes the underlying session for interaction handlers.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

func (c *Client) Ban(ctx context.Context, communityID, identity, reason string) error {
	return c.session.GuildBanCreateWithReason(communityID, identity, reason, 0, discordgo.WithContext(ctx))
}

// FetchBan reports false, nil when the platform answers "unknown ban".
func (c *Client) FetchBan(ctx context.Context, communityID, identity string) (bool, error) {
	ban, err := c.session.GuildBan(communityID, identity, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return ban != nil, nil
}

// Unban returns chat.ErrBanNotFound when the user was not banned.
func (c *Client) Unban(ctx context.Context, communityID, identity string) error {
	err := c.session.GuildBanDelete(communityID, identity, discordgo.WithContext(ctx))
	if err != nil && isNotFound(err) {
		return fmt.Errorf("%w: %w", chat.ErrBanNotFound, err)
	}
	return err
}

// HasBanCapability checks the bot's effective guild permissions.
func (c *Client) HasBanCapability(ctx context.Context, communityID string) (bool, error) {
	if c.session.State == nil || c.session.State.User == nil {
		return false, errors.New("discord session is not ready")
	}
	botID := c.session.State.User.ID

	guild, err := c.session.Guild(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetch guild: %w", err)
	}
	member, err := c.session.GuildMember(communityID, botID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetch bot member: %w", err)
	}
	roles, err := c.session.GuildRoles(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetch roles: %w", err)
	}
	return canBan(guild.OwnerID, botID, member.Roles, roles, communityID), nil
}

// ListTextChannels returns the guild's text channels ordered by position.
func (c *Client) ListTextChannels(ctx context.Context, communityID string) ([]chat.Channel, error) {
	channels, err := c.session.GuildChannels(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return textChannels(channels), nil
}

// Communities lists the guilds the bot is in, from the gateway state.
func (c *Client) Communities(_ context.Context) ([]chat.Community, error) {
	if c.session.State == nil {
		return nil, errors.New("discord state is disabled")
	}
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	out := make([]chat.Community, 0, len(c.session.State.Guilds))
	for _, g := range c.session.State.Guilds {
		out = append(out, chat.Community{ID: g.ID, Name: g.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Announce posts a rich message to a channel.
func (c *Client) Announce(ctx context.Context, channelID string, msg chat.Message) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, messageSend(msg), discordgo.WithContext(ctx))
	return err
}

// SendText posts a plain message to a channel.
func (c *Client) SendText(ctx context.Context, channelID, text string) error {
	_, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

// DirectMessage sends text to a user's DM channel.
func (c *Client) DirectMessage(ctx context.Context, userID, text string) error {
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	return c.SendText(ctx, ch.ID, text)
}

// Timeout disables a member's ability to interact until the given time.
func (c *Client) Timeout(ctx context.Context, communityID, userID string, until time.Time) error {
	return c.session.GuildMemberTimeout(communityID, userID, &until, discordgo.WithContext(ctx))
}

func canBan(ownerID, botID string, memberRoles []string, roles []*discordgo.Role, everyoneRoleID string) bool {
	if ownerID != "" && ownerID == botID {
		return true
	}
	held := make(map[string]struct{}, len(memberRoles)+1)
	for _, r := range memberRoles {
		held[r] = struct{}{}
	}
	held[everyoneRoleID] = struct{}{}

	var perms int64
	for _, r := range roles {
		if _, ok := held[r.ID]; ok {
			perms |= r.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionBanMembers != 0
}

func textChannels(channels []*discordgo.Channel) []chat.Channel {
	sorted := make([]*discordgo.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			sorted = append(sorted, ch)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	out := make([]chat.Channel, len(sorted))
	for i, ch := range sorted {
		out[i] = chat.Channel{ID: ch.ID, Name: ch.Name}
	}
	return out
}

func messageSend(msg chat.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{Embed(msg)},
		Components: Components(msg.Buttons),
	}
}

// Embed renders msg as a discord embed.
func Embed(msg chat.Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       0xC0392B,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}

// Components renders buttons as one action row. Link buttons need a URL;
// others need a custom ID.
func Components(buttons []chat.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		btn := discordgo.Button{Label: b.Label}
		if b.URL != "" {
			btn.Style = discordgo.LinkButton
			btn.URL = b.URL
		} else {
			btn.Style = discordgo.PrimaryButton
			btn.CustomID = b.CustomID
		}
		row.Components = append(row.Components, btn)
	}
	return []discordgo.MessageComponent{row}
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	return restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownBan
}
