package cliparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	HostKeySalt  string
	InviteSalt   string

	// Sweep credentials; empty disables that credential
	CronSecret    string
	ServiceSecret string

	SweepInterval time.Duration
	SweepWorkers  int
	SweepTimeout  time.Duration
	ChatTimeout   time.Duration
	AlignToMinute bool

	LogLevel  string
	LogFormat string
}

// Defaults
const (
	DefaultPort         = 3318
	DefaultSweepWorkers = 8
	DefaultSweepTimeout = 50 * time.Second
	DefaultChatTimeout  = 10 * time.Second
)

// envKeys maps flag names to the environment variables that back them.
var envKeys = map[string]string{
	"port":           "PORT",
	"database-url":   "DATABASE_URL",
	"database-type":  "DATABASE_TYPE",
	"host-salt":      "HOST_KEY_SALT",
	"invite-salt":    "INVITE_SALT",
	"cron-secret":    "CRON_SECRET",
	"service-secret": "SERVICE_ROLE_SECRET",
	"sweep-interval": "SWEEP_INTERVAL",
	"sweep-workers":  "SWEEP_WORKERS",
	"sweep-timeout":  "SWEEP_TIMEOUT",
	"chat-timeout":   "CHAT_TIMEOUT",
	"align-minute":   "ALIGN_DEADLINES_TO_MINUTE",
	"log-level":      "LOG_LEVEL",
	"log-format":     "LOG_FORMAT",
}

// RegisterFlags adds every setting to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	// Network and storage
	fs.IntP("port", "p", DefaultPort, "Server port")
	fs.StringP("database-url", "d", "", "Database URL")
	fs.StringP("database-type", "t", "sqlite", "Database type (sqlite or postgres)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.String("host-salt", "", "Host key salt (prefer env)")
	fs.String("invite-salt", "", "Invite code salt (prefer env)")
	fs.String("cron-secret", "", "Shared secret for POST /process-timers (prefer env)")
	fs.String("service-secret", "", "HS256 secret for service-role tokens (prefer env)")

	// Scheduler
	fs.Duration("sweep-interval", 0, "Run a sweep in-process on this interval (0 disables)")
	fs.Int("sweep-workers", DefaultSweepWorkers, "Chats processed in parallel per sweep")
	fs.Duration("sweep-timeout", DefaultSweepTimeout, "Deadline for one sweep")
	fs.Duration("chat-timeout", DefaultChatTimeout, "Deadline for one chat within a sweep")
	fs.Bool("align-minute", true, "Round phase deadlines up to the next whole minute")

	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
	fs.StringP("config", "c", "", "Config file (yaml, toml or json)")
}

// Load resolves configuration for an already parsed flag set. Precedence is
// flag, then environment (including a .env file), then config file, then
// the flag default.
func Load(fs *pflag.FlagSet) (Config, error) {
	// .env is optional and never overrides the real environment
	_ = godotenv.Load()

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Port:          v.GetInt("port"),
		DatabaseURL:   v.GetString("database-url"),
		DatabaseType:  strings.ToLower(v.GetString("database-type")),
		HostKeySalt:   v.GetString("host-salt"),
		InviteSalt:    v.GetString("invite-salt"),
		CronSecret:    v.GetString("cron-secret"),
		ServiceSecret: v.GetString("service-secret"),
		SweepInterval: v.GetDuration("sweep-interval"),
		SweepWorkers:  v.GetInt("sweep-workers"),
		SweepTimeout:  v.GetDuration("sweep-timeout"),
		ChatTimeout:   v.GetDuration("chat-timeout"),
		AlignToMinute: v.GetBool("align-minute"),
		LogLevel:      strings.ToLower(v.GetString("log-level")),
		LogFormat:     strings.ToLower(v.GetString("log-format")),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	// Bad scheduler tuning falls back to defaults rather than failing
	if cfg.SweepWorkers < 1 {
		cfg.SweepWorkers = DefaultSweepWorkers
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.SweepInterval < 0 {
		cfg.SweepInterval = 0
	}

	return cfg, nil
}

// RequireSecrets checks the settings the HTTP server cannot run without.
func (c Config) RequireSecrets() error {
	if c.HostKeySalt == "" {
		return errors.New("HOST_KEY_SALT required")
	}
	if c.InviteSalt == "" {
		return errors.New("INVITE_SALT required")
	}
	return nil
}

// ParseFlags parses args and resolves a server configuration
func ParseFlags(args []string) (Config, error) {
	fs := pflag.NewFlagSet("converge", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(fs)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.RequireSecrets(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
