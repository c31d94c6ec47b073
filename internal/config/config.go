// Package config provides configuration loading and management for ampa.
//
// All environment and file lookups happen in Load; the resulting Config is
// passed explicitly so nothing downstream reads the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Defaults applied when neither the environment nor the config file sets a
// value.
const (
	DefaultWorklogBin = "wl"
	DefaultAgentBin   = "opencode"
	DefaultTick       = 15 * time.Second
	DefaultGrace      = 30 * time.Second
)

// Config is the resolved daemon configuration.
type Config struct {
	// ProjectRoot is the absolute path the daemon operates in.
	ProjectRoot string

	// StorePath locates the scheduler store JSON document.
	StorePath string
	// DescriptorPath locates the workflow descriptor (yaml or json).
	DescriptorPath string

	DiscordWebhookURL string
	DiscordBotToken   string
	DiscordChannelID  string

	// VerifyPRWithGH enables pull-request merge verification before
	// audit-driven auto-completion.
	VerifyPRWithGH bool
	// RunScheduler makes the daemon enter the scheduler loop on start.
	RunScheduler bool

	WorklogBin string
	AgentBin   string

	// GitHubRepo ("owner/name") builds issue links in notifications.
	GitHubRepo string

	TickInterval time.Duration
	GraceWindow  time.Duration
}

// fileConfig is the shape of .worklog/ampa/config.json plus the AMPA_* env
// bindings layered on top by viper.
type fileConfig struct {
	SchedulerStore  string `mapstructure:"scheduler_store"`
	Workflow        string `mapstructure:"workflow"`
	DiscordWebhook  string `mapstructure:"discord_webhook"`
	DiscordBotToken string `mapstructure:"discord_bot_token"`
	DiscordChannel  string `mapstructure:"discord_channel"`
	VerifyPRWithGH  string `mapstructure:"verify_pr_with_gh"`
	RunScheduler    string `mapstructure:"run_scheduler"`
	WorklogBin      string `mapstructure:"worklog_bin"`
	AgentBin        string `mapstructure:"agent_bin"`
	GitHubRepo      string `mapstructure:"github_repo"`
	TickSeconds     int    `mapstructure:"tick_seconds"`
	GraceSeconds    int    `mapstructure:"grace_seconds"`
}

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string]string{
	"scheduler_store":   "AMPA_SCHEDULER_STORE",
	"discord_webhook":   "AMPA_DISCORD_WEBHOOK",
	"discord_bot_token": "AMPA_DISCORD_BOT_TOKEN",
	"discord_channel":   "AMPA_DISCORD_CHANNEL",
	"verify_pr_with_gh": "AMPA_VERIFY_PR_WITH_GH",
	"run_scheduler":     "AMPA_RUN_SCHEDULER",
	"worklog_bin":       "AMPA_WORKLOG_BIN",
	"agent_bin":         "AMPA_AGENT_BIN",
}

// Load resolves the configuration for the project rooted at projectRoot.
// Precedence: environment > config file > defaults.
func Load(projectRoot string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	loadDotenv(root)

	v := viper.New()
	v.SetConfigFile(filepath.Join(root, ".worklog", "ampa", "config.json"))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetDefault("scheduler_store", filepath.Join(root, ".worklog", "ampa", "scheduler_store.json"))
	v.SetDefault("worklog_bin", DefaultWorklogBin)
	v.SetDefault("agent_bin", DefaultAgentBin)
	// PR merge verification is on unless explicitly disabled; per-command
	// metadata can still override either way.
	v.SetDefault("verify_pr_with_gh", "true")
	v.SetDefault("tick_seconds", int(DefaultTick/time.Second))
	v.SetDefault("grace_seconds", int(DefaultGrace/time.Second))
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var fc fileConfig
	// The env always delivers strings, but config.json may spell booleans
	// and numbers natively; weak typing folds both into the string fields.
	if err := v.Unmarshal(&fc, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		ProjectRoot:       root,
		StorePath:         absPath(root, fc.SchedulerStore),
		DescriptorPath:    resolveDescriptor(root, fc.Workflow),
		DiscordWebhookURL: fc.DiscordWebhook,
		DiscordBotToken:   fc.DiscordBotToken,
		DiscordChannelID:  fc.DiscordChannel,
		VerifyPRWithGH:    Truthy(fc.VerifyPRWithGH),
		RunScheduler:      Truthy(fc.RunScheduler),
		WorklogBin:        fc.WorklogBin,
		AgentBin:          fc.AgentBin,
		GitHubRepo:        fc.GitHubRepo,
		TickInterval:      time.Duration(fc.TickSeconds) * time.Second,
		GraceWindow:       time.Duration(fc.GraceSeconds) * time.Second,
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTick
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGrace
	}
	return cfg, nil
}

// Truthy reports whether s is one of the accepted true spellings: 1, true,
// yes (case-insensitive).
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// AmpaDir returns the per-project state directory.
func (c *Config) AmpaDir() string {
	return filepath.Join(c.ProjectRoot, ".worklog", "ampa")
}

// RunDir returns the supervisor state directory for the named daemon.
func (c *Config) RunDir(name string) string {
	return filepath.Join(c.AmpaDir(), name)
}

// PidFile returns the pid file path for the named daemon.
func (c *Config) PidFile(name string) string {
	return filepath.Join(c.RunDir(name), name+".pid")
}

// LogFile returns the combined stdout+stderr log path for the named daemon.
func (c *Config) LogFile(name string) string {
	return filepath.Join(c.RunDir(name), name+".log")
}

func loadDotenv(root string) {
	path := filepath.Join(root, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		log.Warn().Err(err).Str("path", path).Msg("could not load .env file, continuing with existing environment")
		return
	}
	log.Debug().Str("path", path).Msg("loaded environment file")
}

func absPath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// resolveDescriptor picks the workflow descriptor path: an explicit config
// value wins, otherwise the first existing candidate, otherwise the default
// location init would create.
func resolveDescriptor(root, override string) string {
	if override != "" {
		return absPath(root, override)
	}
	candidates := []string{
		filepath.Join(root, ".worklog", "workflow.yaml"),
		filepath.Join(root, ".worklog", "workflow.json"),
		filepath.Join(root, "workflow.yaml"),
		filepath.Join(root, "workflow.json"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}
