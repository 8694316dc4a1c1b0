package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"

	"bansync/internal/evidence"
	"bansync/internal/platform/discord"
)

const maxEvidenceFiles = 5

var moderateMembers = int64(discordgo.PermissionModerateMembers)

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        OptUser,
		Description: description,
		Required:    true,
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// Definitions are the slash commands registered with the platform.
func Definitions() []*discordgo.ApplicationCommand {
	blacklistOpts := []*discordgo.ApplicationCommandOption{
		userOption("User to blacklist"),
		stringOption(OptReason, "Reason for blacklisting", true),
	}
	for i := 1; i <= maxEvidenceFiles; i++ {
		blacklistOpts = append(blacklistOpts, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        fmt.Sprintf("file%d", i),
			Description: "Image to blacklist",
		})
	}

	return []*discordgo.ApplicationCommand{
		{Name: CmdSyncBans, Description: "Syncs the bot's blacklists to the channel and server."},
		{Name: CmdSyncAll, Description: "Syncs the blacklist to every server the bot is in."},
		{Name: CmdSyncStatus, Description: "Shows when this server was last synced."},
		{Name: CmdBlacklist, Description: "Blacklist a user", Options: blacklistOpts},
		{Name: CmdUnblacklist, Description: "Unblacklist a user", Options: []*discordgo.ApplicationCommandOption{
			userOption("User to unblacklist"),
		}},
		{Name: CmdWhitelist, Description: "Whitelist a user", Options: []*discordgo.ApplicationCommandOption{
			userOption("The user to whitelist"),
		}},
		{Name: CmdUnwhitelist, Description: "Unwhitelist a user", Options: []*discordgo.ApplicationCommandOption{
			userOption("The user to unwhitelist"),
		}},
		{Name: CmdList, Description: "List all blacklisted users"},
		{Name: CmdListWhitelist, Description: "List all whitelisted users"},
		{Name: CmdSearch, Description: "Search for a blacklisted user", Options: []*discordgo.ApplicationCommandOption{
			stringOption(OptPattern, "Pattern to search for in the blacklist", true),
		}},
		{Name: CmdWarn, Description: "Warn a user", DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("The user to warn"),
				stringOption(OptReason, "The reason for the warning", true),
			}},
		{Name: CmdWarns, Description: "Check the number of warns a user has", DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{userOption("The user to check")}},
		{Name: CmdClearWarns, Description: "Clear the warns of a user", DefaultMemberPermissions: &moderateMembers,
			Options: []*discordgo.ApplicationCommandOption{userOption("The user to clear warns for")}},
		{Name: CmdConfig, Description: "Get a link to this server's settings page"},
	}
}

// Register overwrites the global command set.
func Register(ctx context.Context, s *discordgo.Session, appID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(appID, "", Definitions(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// Bind routes the session's interactions to router. The returned function
// removes the handler.
func Bind(s *discordgo.Session, router *Router, logger *slog.Logger) func() {
	return s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		req, ok := toRequest(i)
		if !ok {
			return
		}
		ctx := context.Background()
		if err := router.Handle(ctx, req, newResponder(s, i.Interaction)); err != nil {
			logger.WarnContext(ctx, "interaction failed", "command", req.Name, "error", err)
		}
	})
}

func toRequest(i *discordgo.InteractionCreate) (Request, bool) {
	req := Request{
		CommunityID: i.GuildID,
		ChannelID:   i.ChannelID,
		Options:     map[string]string{},
		Users:       map[string]string{},
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.ActorID = i.Member.User.ID
	case i.User != nil:
		req.ActorID = i.User.ID
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		req.Name = data.Name
		var files []string
		for _, opt := range data.Options {
			if opt.Type == discordgo.ApplicationCommandOptionAttachment {
				files = append(files, opt.Name)
			}
			req.Options[opt.Name] = fmt.Sprint(opt.Value)
		}
		if data.Resolved != nil {
			for id, u := range data.Resolved.Users {
				req.Users[id] = u.Username
			}
			sort.Strings(files)
			for _, name := range files {
				if a, ok := data.Resolved.Attachments[req.Options[name]]; ok {
					req.Attachments = append(req.Attachments, evidence.Attachment{
						URL:         a.URL,
						Filename:    a.Filename,
						ContentType: a.ContentType,
					})
				}
			}
		}
		return req, true
	case discordgo.InteractionMessageComponent:
		req.Name = i.MessageComponentData().CustomID
		req.Component = true
		return req, true
	}
	return Request{}, false
}

type responder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu        sync.Mutex
	responded bool
}

func newResponder(s *discordgo.Session, i *discordgo.Interaction) *responder {
	return &responder{session: s, interaction: i}
}

func (r *responder) Defer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return nil
	}
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("defer interaction: %w", err)
	}
	r.responded = true
	return nil
}

func (r *responder) Reply(ctx context.Context, resp Response) error {
	files, closeFiles, err := openFiles(resp.Files)
	if err != nil {
		return err
	}
	defer closeFiles()

	r.mu.Lock()
	defer r.mu.Unlock()
	embeds := embedsOf(resp)
	if r.responded {
		content := resp.Content
		_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &embeds,
			Files:   files,
		}, discordgo.WithContext(ctx))
		return err
	}
	data := &discordgo.InteractionResponseData{Content: resp.Content, Embeds: embeds, Files: files}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err = r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	if err == nil {
		r.responded = true
	}
	return err
}

func (r *responder) Followup(ctx context.Context, resp Response) error {
	files, closeFiles, err := openFiles(resp.Files)
	if err != nil {
		return err
	}
	defer closeFiles()

	params := &discordgo.WebhookParams{Content: resp.Content, Embeds: embedsOf(resp), Files: files}
	if resp.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	_, err = r.session.FollowupMessageCreate(r.interaction, true, params, discordgo.WithContext(ctx))
	return err
}

func embedsOf(resp Response) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		embeds = append(embeds, discord.Embed(m))
	}
	return embeds
}

func openFiles(files []File) ([]*discordgo.File, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		fh, err := os.Open(f.Path)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s: %w", f.Name, err)
		}
		opened = append(opened, fh)
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: fh})
	}
	return out, closeAll, nil
}
