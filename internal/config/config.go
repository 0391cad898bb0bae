package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/DigitumDei/Actuarius/internal/agent"
)

type Config struct {
	ReposRoot           string        `yaml:"repos_root" env:"REPOS_ROOT_PATH"`
	DatabasePath        string        `yaml:"database_path" env:"DATABASE_PATH"`
	LogLevel            string        `yaml:"log_level" env:"LOG_LEVEL"`
	ConcurrencyPerGuild int           `yaml:"concurrency_per_guild" env:"ASK_CONCURRENCY_PER_GUILD"`
	ExecutionTimeout    time.Duration `yaml:"execution_timeout" env:"ASK_EXECUTION_TIMEOUT"`
	GitTimeout          time.Duration `yaml:"git_timeout" env:"GIT_TIMEOUT"`
	WorktreeTimeout     time.Duration `yaml:"worktree_timeout" env:"WORKTREE_TIMEOUT"`
	WorktreeCleanup     string        `yaml:"worktree_cleanup" env:"WORKTREE_CLEANUP"`
	HistoryTurns        int           `yaml:"history_turns" env:"HISTORY_TURNS"`
	Agents              AgentsConfig  `yaml:"agents"`
	ListenAddr          string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	OTLPEndpoint        string        `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	GitHubToken         string        `yaml:"github_token" env:"GITHUB_TOKEN"`
	EventLogPath        string        `yaml:"event_log_path" env:"EVENT_LOG_PATH"`
	ShutdownGrace       time.Duration `yaml:"shutdown_grace" env:"SHUTDOWN_GRACE"`
}

type AgentsConfig struct {
	Claude AgentConfig `yaml:"claude" env:",prefix=CLAUDE_"`
	Codex  AgentConfig `yaml:"codex" env:",prefix=CODEX_"`
	Gemini AgentConfig `yaml:"gemini" env:",prefix=GEMINI_"`
}

type AgentConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Binary  string `yaml:"binary" env:"BINARY"`
	Model   string `yaml:"model" env:"MODEL"`
}

func Default() Config {
	return Config{
		ReposRoot:           "/data/repos",
		DatabasePath:        "/data/app.db",
		LogLevel:            "info",
		ConcurrencyPerGuild: 1,
		ExecutionTimeout:    20 * time.Minute,
		GitTimeout:          60 * time.Second,
		WorktreeTimeout:     120 * time.Second,
		WorktreeCleanup:     "session",
		HistoryTurns:        50,
		Agents: AgentsConfig{
			Claude: AgentConfig{Enabled: true, Binary: "claude"},
			Codex:  AgentConfig{Binary: "codex"},
			Gemini: AgentConfig{Binary: "gemini"},
		},
		ListenAddr:    ":8080",
		ShutdownGrace: 30 * time.Second,
	}
}

// Load reads defaults, then the YAML file at path if any, then the
// process environment.
func Load(ctx context.Context, path string) (Config, error) {
	return LoadWith(ctx, path, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, path string, lookuper envconfig.Lookuper) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           &cfg,
		Lookuper:         lookuper,
		DefaultOverwrite: true,
	}); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ReposRoot) == "" {
		errs = append(errs, errors.New("repos_root must be set"))
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database_path must be set"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ConcurrencyPerGuild < 1 {
		errs = append(errs, fmt.Errorf("concurrency_per_guild must be at least 1, got %d", c.ConcurrencyPerGuild))
	}
	for name, d := range map[string]time.Duration{
		"execution_timeout": c.ExecutionTimeout,
		"git_timeout":       c.GitTimeout,
		"worktree_timeout":  c.WorktreeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	switch c.WorktreeCleanup {
	case "request", "session":
	default:
		errs = append(errs, fmt.Errorf("worktree_cleanup must be request or session, got %q", c.WorktreeCleanup))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must not be negative, got %s", c.ShutdownGrace))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("history_turns must not be negative, got %d", c.HistoryTurns))
	}
	return errors.Join(errs...)
}

func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error", "fatal":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
}

// AgentSettings keys the agent configuration by agent name.
func (c Config) AgentSettings() map[string]agent.Settings {
	convert := func(a AgentConfig) agent.Settings {
		return agent.Settings{Enabled: a.Enabled, Binary: a.Binary, Model: a.Model}
	}
	return map[string]agent.Settings{
		agent.Claude: convert(c.Agents.Claude),
		agent.Codex:  convert(c.Agents.Codex),
		agent.Gemini: convert(c.Agents.Gemini),
	}
}
