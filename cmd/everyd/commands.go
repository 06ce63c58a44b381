package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/everyd"
	"github.com/loykin/everyd/pkg/client"
	"github.com/loykin/everyd/pkg/template"
)

const defaultAPIUrl = "http://127.0.0.1:8080"

func newAPIClient(apiUrl string, timeout time.Duration) *client.Client {
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: apiUrl, Timeout: timeout})
}

// loadServeConfig loads the config for serve, applying the positional
// path and flag overrides.
func loadServeConfig(flags *ServeFlags, args []string) (*everyd.Config, error) {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := everyd.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.Every > 0 {
		cfg.Schedule.Every = flags.Every
	}
	return cfg, nil
}

func runServeCommand(flags *ServeFlags, args []string) error {
	cfg, err := loadServeConfig(flags, args)
	if err != nil {
		return err
	}

	// Fail on bad config before forking.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if flags.Daemonize {
		// Re-execs without --daemonize and exits the parent. Returns nil
		// only when this process is already the daemon child.
		if err := daemonize(flags.LogFile); err != nil {
			return err
		}
	}

	slog.SetDefault(cfg.Log.LoggerConfig().NewSlogger())

	sup, err := everyd.New(cfg)
	if err != nil {
		return err
	}
	if err := sup.Start(); err != nil {
		return err
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			_ = sup.Stop()
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("signal received, shutting down", "signal", sig.String())

	return sup.Stop()
}

// runOnceCommand executes a single worker run and returns the process
// exit code for it: 0 on success, the worker's exit code on failure,
// 124 on timeout, 127 when the worker could not be launched.
func runOnceCommand(flags *RunFlags, args []string) (int, error) {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := everyd.LoadConfig(configPath)
	if err != nil {
		return 0, err
	}
	if flags.Timeout > 0 {
		cfg.Worker.Timeout = flags.Timeout
	}

	slog.SetDefault(cfg.Log.LoggerConfig().NewSlogger())

	sup, err := everyd.New(cfg)
	if err != nil {
		return 0, err
	}

	// Ctrl-C cancels the run; the runner escalates to the worker.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := sup.RunOnce(ctx)
	printJSON(rec)
	return exitCodeFor(rec), nil
}

// exitCodeFor maps a run record onto the CLI exit code contract.
func exitCodeFor(rec everyd.Record) int {
	switch rec.Outcome {
	case everyd.OutcomeSuccess:
		return 0
	case everyd.OutcomeTimedOut:
		return 124
	case everyd.OutcomeLaunchFailed:
		return 127
	default:
		if rec.ExitCode != nil && *rec.ExitCode > 0 {
			return *rec.ExitCode
		}
		return 1
	}
}

func runStatusCommand(f StatusFlags) error {
	apiClient := newAPIClient(f.APIUrl, f.APITimeout)
	ctx := context.Background()
	if !apiClient.IsReachable(ctx) {
		return fmt.Errorf("supervisor not reachable at %s - start it first with 'everyd serve'", displayAPIUrl(f.APIUrl))
	}

	st, err := apiClient.Status(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(st)
		return nil
	}
	renderStatusTable(st)
	return nil
}

func runRunsCommand(f RunsFlags) error {
	if f.Limit < 0 {
		return fmt.Errorf("--limit must be >= 0 (got %d)", f.Limit)
	}

	apiClient := newAPIClient(f.APIUrl, f.APITimeout)
	ctx := context.Background()
	if !apiClient.IsReachable(ctx) {
		return fmt.Errorf("supervisor not reachable at %s - start it first with 'everyd serve'", displayAPIUrl(f.APIUrl))
	}

	recs, err := apiClient.Runs(ctx, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(recs)
		return nil
	}
	renderRunsTable(recs)
	return nil
}

func displayAPIUrl(apiUrl string) string {
	if apiUrl == "" {
		return defaultAPIUrl
	}
	return apiUrl
}

func runInitCommand(f InitFlags, args []string) error {
	path := "everyd.toml"
	if len(args) > 0 {
		path = args[0]
	}

	taskType := template.TaskType(f.Type)
	if f.Type == "" {
		taskType = template.TypeSimple
	}
	taskName := f.Name
	if taskName == "" {
		taskName = string(taskType)
	}

	content, err := template.NewGenerator().GenerateTOML(taskType, taskName)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !f.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote starter config to %s\n", path)
	fmt.Printf("Edit the config and start with: everyd serve %s\n", path)
	return nil
}
