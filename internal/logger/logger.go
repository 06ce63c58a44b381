package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for worker output files
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig configures the supervisor's own structured logging.
type SlogConfig struct {
	Level      string // debug, info, warn or error
	Format     Format
	Color      bool // ANSI level colors (text format only)
	TimeStamps bool
	Source     bool
}

// FileConfig describes rotating file destinations for worker output.
// If StdoutPath/StderrPath are empty and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory for logs
	StdoutPath string // explicit stdout path overrides Dir
	StderrPath string // explicit stderr path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

type Config struct {
	Slog SlogConfig
	File FileConfig
}

// ParseLevel maps a config level string onto slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the supervisor logger described by c.Slog.
// Output goes to stderr so worker passthrough on stdout stays separate.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	var h slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		h = slog.NewJSONHandler(os.Stderr, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// Writers returns io.WriteClosers for the worker's stdout and stderr.
// Both are nil when neither Dir nor explicit paths are configured.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.File.StdoutPath
	stderr := c.File.StderrPath
	if stdout == "" && c.File.Dir != "" {
		stdout = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.File.Dir != "" {
		stderr = filepath.Join(c.File.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.File.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.File.Compress,
		}
	}
	return outW, errW, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
