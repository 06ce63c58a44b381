package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/everyd/internal/env"
	"github.com/loykin/everyd/internal/logger"
	"github.com/spf13/viper"
)

const (
	DefaultEvery            = 5 * time.Minute
	DefaultTimeout          = 4 * time.Minute
	DefaultKillGrace        = 5 * time.Second
	DefaultShutdownGrace    = 10 * time.Second
	DefaultListen           = ":8080"
	DefaultFailureThreshold = 3
	DefaultHistorySize      = 50
)

// Config is the complete supervisor configuration. It is loaded once at
// startup and treated as immutable afterwards.
type Config struct {
	Env           []string       `toml:"env" mapstructure:"env"`
	EnvFiles      []string       `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv      bool           `toml:"use_os_env" mapstructure:"use_os_env"`
	ShutdownGrace time.Duration  `toml:"shutdown_grace" mapstructure:"shutdown_grace"`
	Schedule      ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
	Worker        WorkerConfig   `toml:"worker" mapstructure:"worker"`
	Server        ServerConfig   `toml:"server" mapstructure:"server"`
	Health        HealthConfig   `toml:"health" mapstructure:"health"`
	Log           LogConfig      `toml:"log" mapstructure:"log"`
	Metrics       MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	History       HistoryConfig  `toml:"history" mapstructure:"history"`
}

type ScheduleConfig struct {
	// Every is the fixed tick cadence. Ignored when Cron is set.
	Every time.Duration `toml:"every" mapstructure:"every"`
	// Cron is an optional standard cron expression driving tick times
	// instead of the fixed cadence.
	Cron       string `toml:"cron" mapstructure:"cron"`
	RunOnStart bool   `toml:"run_on_start" mapstructure:"run_on_start"`
}

type WorkerConfig struct {
	// Command is the worker command line. Plain strings are field-split;
	// strings containing shell metacharacters run via the shell. When
	// Args is set, Command is executed verbatim with those arguments.
	Command   string        `toml:"command" mapstructure:"command"`
	Args      []string      `toml:"args" mapstructure:"args"`
	WorkDir   string        `toml:"workdir" mapstructure:"workdir"`
	Env       []string      `toml:"env" mapstructure:"env"`
	Timeout   time.Duration `toml:"timeout" mapstructure:"timeout"`
	KillGrace time.Duration `toml:"kill_grace" mapstructure:"kill_grace"`
}

type ServerConfig struct {
	// Listen is the API listen address. Empty disables the built-in
	// server; embedders mount the handler in their own server.
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HealthConfig struct {
	// FailureThreshold is the consecutive-failure count at which the
	// readiness endpoint reports degraded.
	FailureThreshold int `toml:"failure_threshold" mapstructure:"failure_threshold"`
	// HistorySize bounds the in-memory run record ring.
	HistorySize int `toml:"history_size" mapstructure:"history_size"`
}

type LogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"` // text, json or color
	// Dir enables rotating files for worker stdout/stderr. When empty the
	// worker output passes through to the supervisor's own streams.
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// LoggerConfig maps the TOML log section onto the logger package config.
func (l LogConfig) LoggerConfig() logger.Config {
	format := logger.FormatText
	color := false
	switch strings.ToLower(l.Format) {
	case "json":
		format = logger.FormatJSON
	case "color":
		color = true
	}
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     format,
			Color:      color,
			TimeStamps: true,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			StdoutPath: l.Stdout,
			StderrPath: l.Stderr,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	// Sinks lists run-history destinations as DSNs
	// (sqlite path, postgres://, clickhouse://, opensearch://).
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
	// Timeout bounds each sink write.
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// Default returns a Config with all defaults applied and no worker
// command. Callers embedding the supervisor fill in Worker and Schedule.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults only; cannot fail
	_ = v.Unmarshal(&c)
	return &c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
	v.SetDefault("shutdown_grace", DefaultShutdownGrace)
	v.SetDefault("schedule.every", DefaultEvery)
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.workdir", "")
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.timeout", DefaultTimeout)
	v.SetDefault("worker.kill_grace", DefaultKillGrace)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", "")
	v.SetDefault("health.failure_threshold", DefaultFailureThreshold)
	v.SetDefault("health.history_size", DefaultHistorySize)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.timeout", 3*time.Second)
}

// Load reads the optional TOML file at path and overlays EVERYD_*
// environment variables (EVERYD_WORKER_TIMEOUT=90s overrides
// worker.timeout). An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("EVERYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks the invariants that make a Config runnable.
// Violations are fatal at startup.
func (c *Config) Validate() error {
	if c.Schedule.Cron == "" && c.Schedule.Every <= 0 {
		return fmt.Errorf("schedule.every must be > 0 (got %v)", c.Schedule.Every)
	}
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("worker.command is required")
	}
	if c.Worker.Timeout <= 0 {
		return fmt.Errorf("worker.timeout must be > 0 (got %v)", c.Worker.Timeout)
	}
	if c.Worker.KillGrace < 0 {
		return fmt.Errorf("worker.kill_grace must be >= 0 (got %v)", c.Worker.KillGrace)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be > 0 (got %v)", c.ShutdownGrace)
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be > 0 (got %d)", c.Health.FailureThreshold)
	}
	if c.Health.HistorySize <= 0 {
		return fmt.Errorf("health.history_size must be > 0 (got %d)", c.Health.HistorySize)
	}
	return nil
}

// BuildEnv composes the worker environment source from the config:
// OS env as base (when use_os_env), then env_files in order, then the
// top-level env list. Per-run extras (worker.env) are applied by the
// runner via Merge.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	e.Inherit = c.UseOSEnv
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, val := range pairs {
			e.Set(k, val)
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			e.Set(k, kv[i+1:])
		}
	}
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
