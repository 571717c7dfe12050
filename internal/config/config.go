package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken         string              `yaml:"discord_token"`
	ApplicationID        string              `yaml:"application_id"`
	TestGuildID          string              `yaml:"test_guild_id"`
	LogLevel             string              `yaml:"log_level"`
	SweepIntervalSeconds int                 `yaml:"sweep_interval_seconds"`
	AuditRetentionDays   int                 `yaml:"audit_retention_days"`
	Storage              StorageConfig       `yaml:"storage"`
	Health               HealthConfig        `yaml:"health"`
	Defaults             GuildDefaults       `yaml:"defaults"`
	Notifications        NotifyConfig        `yaml:"notifications"`
	NetTools             NetToolsConfig      `yaml:"net_tools"`
	Fun                  map[string][]string `yaml:"fun"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GuildDefaults seed the per-guild settings until a moderator changes them.
type GuildDefaults struct {
	ModRoleID         string `yaml:"mod_role_id"`
	MutedRoleName     string `yaml:"muted_role_name"`
	AlertChannelID    string `yaml:"alert_channel_id"`
	AntiLink          bool   `yaml:"anti_link"`
	AntiRaid          bool   `yaml:"anti_raid"`
	RaidJoins         int    `yaml:"raid_joins"`
	RaidWindowSeconds int    `yaml:"raid_window_seconds"`
}

type NotifyConfig struct {
	AuditToChannel    bool        `yaml:"audit_to_channel"`
	LinkNoticeSeconds int         `yaml:"link_notice_seconds"`
	EmbedColors       EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

type NetToolsConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxTimeoutSeconds int  `yaml:"max_timeout_seconds"`
	PerUserPerMinute  int  `yaml:"per_user_per_minute"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func DefaultConfig() Config {
	return Config{
		LogLevel:             "info",
		SweepIntervalSeconds: 20,
		AuditRetentionDays:   90,
		Storage:              StorageConfig{Driver: DriverSQLite, Path: "/data/guardian.db"},
		Health:               HealthConfig{Enabled: false, Addr: ":8080"},
		Defaults: GuildDefaults{
			MutedRoleName:     "Muted",
			AntiLink:          false,
			AntiRaid:          false,
			RaidJoins:         5,
			RaidWindowSeconds: 60,
		},
		Notifications: NotifyConfig{
			AuditToChannel:    true,
			LinkNoticeSeconds: 6,
			EmbedColors: EmbedColors{
				Action:  0x5865F2,
				Warning: 0xF59E0B,
				Error:   0xEF4444,
			},
		},
		NetTools: NetToolsConfig{Enabled: true, MaxTimeoutSeconds: 10, PerUserPerMinute: 3},
		Fun: map[string][]string{
			"coinflip": {"Heads", "Tails"},
			"8ball": {
				"It is certain.", "Without a doubt.", "You may rely on it.",
				"Ask again later.", "Better not tell you now.", "My reply is no.",
				"Very doubtful.", "Signs point to yes.",
			},
			"meme": {
				"https://i.imgflip.com/1bij.jpg",
				"https://i.imgflip.com/30b1gx.jpg",
				"https://i.imgflip.com/1ur9b0.jpg",
			},
			"bonk": {"{user} has been bonked."},
		},
	}
}

// LoadFile layers the YAML file at path (optional), then .env, then the
// environment over DefaultConfig.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Storage.Driver = normalizeDriver(cfg.Storage.Driver)
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required for the postgres driver")
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = 20
	}
	if cfg.Defaults.MutedRoleName == "" {
		cfg.Defaults.MutedRoleName = "Muted"
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.ApplicationID = envString("APPLICATION_ID", cfg.ApplicationID)
	cfg.TestGuildID = envString("TEST_GUILD_ID", cfg.TestGuildID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.SweepIntervalSeconds = envInt("SWEEP_INTERVAL_SECONDS", cfg.SweepIntervalSeconds)
	cfg.AuditRetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.AuditRetentionDays)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Storage.Driver = envString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = envString("DATABASE_PATH", cfg.Storage.Path)
	cfg.Storage.DatabaseURL = envString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Defaults.ModRoleID = envString("MOD_ROLE_ID", cfg.Defaults.ModRoleID)
	cfg.Defaults.MutedRoleName = envString("MUTED_ROLE_NAME", cfg.Defaults.MutedRoleName)
	cfg.Defaults.AlertChannelID = envString("ALERT_CHANNEL_ID", cfg.Defaults.AlertChannelID)
	cfg.Defaults.AntiLink = envBool("ANTI_LINK", cfg.Defaults.AntiLink)
	cfg.Defaults.AntiRaid = envBool("ANTI_RAID", cfg.Defaults.AntiRaid)
	cfg.Defaults.RaidJoins = envInt("RAID_JOINS", cfg.Defaults.RaidJoins)
	cfg.Defaults.RaidWindowSeconds = envInt("RAID_WINDOW_SECONDS", cfg.Defaults.RaidWindowSeconds)
	cfg.NetTools.Enabled = envBool("NET_TOOLS_ENABLED", cfg.NetTools.Enabled)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return ParseBool(value)
	}
	return fallback
}

// ParseBool accepts the spellings moderators type into /settings.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	default:
		return DriverSQLite
	}
}
