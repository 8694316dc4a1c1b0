package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration shared by cmd/bot and cmd/server.
type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Evidence EvidenceConfig `mapstructure:"evidence"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Server   Server         `mapstructure:"server"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// DiscordConfig carries the bot credentials.
type DiscordConfig struct {
	Token string `mapstructure:"token"`
	AppID string `mapstructure:"app_id"`
	// DebugUserID receives DMs when a configured role or channel is missing.
	DebugUserID string `mapstructure:"debug_user_id"`
}

// RedisConfig configures the key-value store connection.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"`
	CacheSize    int           `mapstructure:"cache_size"`
}

// SyncConfig tunes the replication loop.
type SyncConfig struct {
	MinDelay            time.Duration `mapstructure:"min_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	MaxReportedFailures int           `mapstructure:"max_reported_failures"`
	GlobalBansPerSecond float64       `mapstructure:"global_bans_per_second"`
	GlobalBanBurst      int           `mapstructure:"global_ban_burst"`
	Concurrency         int           `mapstructure:"concurrency"`
	ForceOverrideID     string        `mapstructure:"force_override_id"`
	ChannelPattern      string        `mapstructure:"channel_pattern"`
	BanReason           string        `mapstructure:"ban_reason"`
}

// EvidenceConfig bounds the attachment pipeline.
type EvidenceConfig struct {
	MaxFiles      int           `mapstructure:"max_files"`
	AllowedTypes  []string      `mapstructure:"allowed_types"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxViewImages int           `mapstructure:"max_view_images"`
}

// DriveConfig points at the OAuth client secrets and cached token.
type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
}

// Server captures HTTP server level configuration for the config web form.
type Server struct {
	Addr          string        `mapstructure:"addr"`
	PublicURL     string        `mapstructure:"public_url"`
	ConfigDir     string        `mapstructure:"config_dir"`
	GuildsFile    string        `mapstructure:"guilds_file"`
	SigningKey    string        `mapstructure:"signing_key"`
	LinkTTL       time.Duration `mapstructure:"link_ttl"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// AuditConfig selects optional audit sinks. Empty values disable the sink.
type AuditConfig struct {
	PostgresDSN  string   `mapstructure:"postgres_dsn"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	BufferSize   int      `mapstructure:"buffer_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal; keys without a default are invisible to environment overrides.
func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.app_id", "")
	v.SetDefault("discord.debug_user_id", "")
	v.SetDefault("server.signing_key", "")
	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.kafka_brokers", []string{})

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.op_timeout", 5*time.Second)
	v.SetDefault("redis.cache_size", 128)

	v.SetDefault("sync.min_delay", 10*time.Second)
	v.SetDefault("sync.max_delay", 15*time.Second)
	v.SetDefault("sync.call_timeout", 10*time.Second)
	v.SetDefault("sync.max_reported_failures", 10)
	v.SetDefault("sync.global_bans_per_second", 1.0)
	v.SetDefault("sync.global_ban_burst", 1)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.force_override_id", "708812851229229208")
	v.SetDefault("sync.channel_pattern", `(?i).*blacklist*.`)
	v.SetDefault("sync.ban_reason", "Blacklisted by the bot.")

	v.SetDefault("evidence.max_files", 5)
	v.SetDefault("evidence.allowed_types", []string{"image/png", "image/jpeg", "image/gif"})
	v.SetDefault("evidence.fetch_timeout", 30*time.Second)
	v.SetDefault("evidence.max_view_images", 10)

	v.SetDefault("drive.credentials_file", "credentials/credentials.json")
	v.SetDefault("drive.token_file", "credentials/token.json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.config_dir", "config")
	v.SetDefault("server.guilds_file", "guilds.json")
	v.SetDefault("server.link_ttl", 15*time.Minute)
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("audit.kafka_topic", "bansync.audit")
	v.SetDefault("audit.buffer_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from an optional YAML file and BANSYNC_* environment
// variables (BANSYNC_SYNC_MIN_DELAY overrides sync.min_delay). An empty path
// skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BANSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field invariants that viper cannot express.
func (c *Config) Validate() error {
	if c.Sync.MinDelay < 0 || c.Sync.MaxDelay < c.Sync.MinDelay {
		return errors.New("sync.max_delay must be >= sync.min_delay >= 0")
	}
	if c.Sync.CallTimeout <= 0 {
		return errors.New("sync.call_timeout must be positive")
	}
	if c.Sync.MaxReportedFailures < 0 {
		return errors.New("sync.max_reported_failures must not be negative")
	}
	if c.Sync.Concurrency <= 0 {
		return errors.New("sync.concurrency must be positive")
	}
	if c.Evidence.MaxFiles <= 0 {
		return errors.New("evidence.max_files must be positive")
	}
	return nil
}
