package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"bansync/internal/blacklist/service"
	"bansync/internal/blacklist/store"
	"bansync/internal/chat"
	"bansync/internal/commands"
	"bansync/internal/configlink"
	"bansync/internal/evidence"
	"bansync/internal/guildconfig"
	"bansync/internal/kvstore"
	"bansync/internal/moderation"
	"bansync/internal/platform/auditsink"
	"bansync/internal/platform/config"
	"bansync/internal/platform/discord"
	"bansync/internal/platform/drive"
	"bansync/internal/platform/logger"
	"bansync/internal/platform/metrics"
	"bansync/internal/platform/redis"
	"bansync/internal/syncengine"
	"bansync/internal/syncstate"
	"bansync/internal/throttle"
	"bansync/internal/whitelist"
)

// main wires the bot: store, sync engine, evidence pipeline and the command
// router on top of a gateway session. Business logic lives in internal packages.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	driveAuth := flag.Bool("drive-auth", false, "authorize cloud file storage and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *driveAuth {
		err = authorizeDrive(ctx, cfg.Drive)
	} else {
		err = run(ctx, cfg, log)
	}
	if err != nil {
		log.Error("bot stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	reg := prometheus.DefaultRegisterer

	auditor, closeAudit, err := auditsink.Open(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb == nil {
		return errors.New("redis.url is required")
	}
	defer rdb.Close()

	kv, err := kvstore.New(kvstore.NewRedisBackend(rdb.Client),
		kvstore.WithLogger(log),
		kvstore.WithMetrics(kvstore.NewMetrics(reg)),
		kvstore.WithOpTimeout(cfg.Redis.OpTimeout),
		kvstore.WithRecordCache(kvstore.PartitionBlacklist, cfg.Redis.CacheSize),
	)
	if err != nil {
		return err
	}
	blacklist, err := store.New(kv)
	if err != nil {
		return err
	}
	tracker, err := syncstate.New(kv)
	if err != nil {
		return err
	}
	exempt, err := whitelist.New(kv, cfg.Sync.ForceOverrideID, whitelist.WithLogger(log))
	if err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	platform, err := discord.New(session, discord.WithLogger(log))
	if err != nil {
		return err
	}

	channels, err := chat.NewChannelMatcher(cfg.Sync.ChannelPattern)
	if err != nil {
		return err
	}
	pacer, err := throttle.NewJitter(cfg.Sync.MinDelay, cfg.Sync.MaxDelay)
	if err != nil {
		return err
	}
	globalBans := throttle.NewLimiter(cfg.Sync.GlobalBansPerSecond, cfg.Sync.GlobalBanBurst)

	engine, err := syncengine.New(platform, blacklist, tracker, exempt,
		syncengine.WithPacer(pacer),
		syncengine.WithGlobalLimiter(globalBans),
		syncengine.WithChannelMatcher(channels),
		syncengine.WithCallTimeout(cfg.Sync.CallTimeout),
		syncengine.WithMaxReportedFailures(cfg.Sync.MaxReportedFailures),
		syncengine.WithConcurrency(cfg.Sync.Concurrency),
		syncengine.WithBanReason(cfg.Sync.BanReason),
		syncengine.WithLogger(log),
		syncengine.WithMetrics(syncengine.NewMetrics(reg)),
		syncengine.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	files, err := openDrive(ctx, cfg.Drive, log)
	if err != nil {
		return err
	}
	pipeline, err := evidence.New(files,
		evidence.WithHTTPClient(resty.New().SetTimeout(cfg.Evidence.FetchTimeout)),
		evidence.WithAllowedTypes(cfg.Evidence.AllowedTypes),
		evidence.WithMaxFiles(cfg.Evidence.MaxFiles),
		evidence.WithMaxViewImages(cfg.Evidence.MaxViewImages),
		evidence.WithLogger(log),
		evidence.WithMetrics(evidence.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	entries, err := service.New(blacklist, platform, pipeline, exempt,
		service.WithLimiter(globalBans),
		service.WithChannelMatcher(channels),
		service.WithCallTimeout(cfg.Sync.CallTimeout),
		service.WithLogger(log),
		service.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}
	warnings, err := moderation.New(kv, platform,
		moderation.WithLogger(log),
		moderation.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	configs, err := guildconfig.NewFileStore(cfg.Server.ConfigDir, cfg.Server.GuildsFile)
	if err != nil {
		return err
	}
	deps := commands.Deps{
		Syncer:     engine,
		Blacklist:  entries,
		Whitelist:  exempt,
		Moderation: warnings,
		Evidence:   pipeline,
		SyncStatus: tracker,
		Configs:    configs,
		Notifier:   platform,
	}
	if cfg.Server.SigningKey != "" {
		signer, err := configlink.NewSigner(cfg.Server.SigningKey, cfg.Server.PublicURL,
			configlink.WithTTL(cfg.Server.LinkTTL))
		if err != nil {
			return err
		}
		deps.Links = signer
	} else {
		log.WarnContext(ctx, "server.signing_key is empty, /config is disabled")
	}

	router, err := commands.New(deps,
		commands.WithLogger(log),
		commands.WithMetrics(metrics.New(reg)),
		commands.WithAuditPublisher(auditor),
		commands.WithRunContext(ctx),
		commands.WithDebugUser(cfg.Discord.DebugUserID),
	)
	if err != nil {
		return err
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		recordCommunities(ctx, configs, r.Guilds, log)
	})
	unbind := commands.Bind(session, router, log)
	defer unbind()

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer session.Close()

	appID := cfg.Discord.AppID
	if appID == "" && session.State.User != nil {
		appID = session.State.User.ID
	}
	if err := commands.Register(ctx, session, appID); err != nil {
		return err
	}
	log.InfoContext(ctx, "bot is running", "app_id", appID)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// recordCommunities persists the community list the config server shows and
// creates a default config file for each new community.
func recordCommunities(ctx context.Context, configs *guildconfig.FileStore, guilds []*discordgo.Guild, log *slog.Logger) {
	communities := make([]guildconfig.Community, 0, len(guilds))
	for _, g := range guilds {
		c := guildconfig.Community{ID: g.ID, Name: g.Name}
		if g.Icon != "" {
			icon := g.Icon
			c.Icon = &icon
		}
		communities = append(communities, c)
		if err := configs.Ensure(g.ID); err != nil {
			log.WarnContext(ctx, "create community config failed", "community_id", g.ID, "error", err)
		}
	}
	if err := configs.SaveCommunities(communities); err != nil {
		log.WarnContext(ctx, "save community list failed", "error", err)
		return
	}
	log.InfoContext(ctx, "community list saved", "count", len(communities))
}

func openDrive(ctx context.Context, cfg config.DriveConfig, log *slog.Logger) (*drive.Client, error) {
	oauthCfg, err := drive.LoadConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	ts, err := drive.TokenSource(ctx, oauthCfg, cfg.TokenFile)
	if errors.Is(err, drive.ErrTokenMissing) {
		return nil, fmt.Errorf("%w: run with -drive-auth first", err)
	}
	if err != nil {
		return nil, err
	}
	return drive.NewWithTokenSource(ctx, ts, nil, drive.WithLogger(log))
}

// authorizeDrive runs the installed-app consent flow on the terminal.
func authorizeDrive(ctx context.Context, cfg config.DriveConfig) error {
	oauthCfg, err := drive.LoadConfig(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	fmt.Printf("Open this URL in a browser and paste the authorization code:\n%s\n> ", drive.AuthURL(oauthCfg))
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}
	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := drive.Exchange(exchangeCtx, oauthCfg, strings.TrimSpace(code), cfg.TokenFile); err != nil {
		return err
	}
	fmt.Println("Token saved to", cfg.TokenFile)
	return nil
}
