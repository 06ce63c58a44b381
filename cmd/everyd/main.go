package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at release time via -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string // Only config path for CLI commands
}

// buildRoot creates the root command and wires up all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	runsFlags := &RunsFlags{}
	initFlags := &InitFlags{}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags),
		createStatusCommand(statusFlags),
		createRunsCommand(runsFlags),
		createInitCommand(initFlags),
		createVersionCommand(),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "everyd",
		Short: "Periodic task supervisor",
		Long: `Everyd runs one worker command on a fixed cadence, never overlapping
runs, and exposes health, status and run history over HTTP.

Examples:
  everyd init                       # Write a starter everyd.toml
  everyd serve --config=everyd.toml # Run the supervisor
  everyd run --config=everyd.toml   # Execute a single run and exit
  everyd status                     # Query a running supervisor
  everyd runs --limit=10            # Show the most recent runs`,
	}

	// Only essential flags for CLI commands
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor",
		Long: `Run the supervisor: schedule the worker, serve the HTTP API and
keep going until SIGINT or SIGTERM. The config file may be given via
--config or as a positional argument; EVERYD_* environment variables
override file values.

Examples:
  everyd serve --config=everyd.toml
  everyd serve everyd.toml --listen=:9090
  everyd serve everyd.toml --daemonize --pidfile=/run/everyd.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override the API listen address from the config")
	cmd.Flags().DurationVar(&serveFlags.Every, "every", 0, "override the schedule interval from the config")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the supervisor PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Execute a single worker run and exit",
		Long: `Execute exactly one worker run in the foreground, print the run
record as JSON and exit with a code mirroring the outcome: 0 on
success, the worker's own exit code on failure, 124 on timeout and
127 when the worker could not be launched.

Examples:
  everyd run --config=everyd.toml
  everyd run everyd.toml --timeout=30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			if !cmd.Flag("timeout").Changed {
				runFlags.Timeout = 0
			}
			code, err := runOnceCommand(runFlags, args)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&runFlags.Timeout, "timeout", 0, "override worker.timeout for this run")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor status",
		Long: `Show the status of a running supervisor: readiness, run totals and
the most recent run.

Examples:
  everyd status
  everyd status --json
  everyd status --api-url=http://remote:8080  # Remote supervisor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusCommand(*statusFlags)
		},
	}

	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print raw JSON instead of a table")

	// Remote supervisor connection
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "supervisor URL (default http://127.0.0.1:8080)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createRunsCommand creates the runs subcommand
func createRunsCommand(runsFlags *RunsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent run records",
		Long: `Show the most recent run records of a running supervisor, newest
first.

Examples:
  everyd runs
  everyd runs --limit=10
  everyd runs --json --api-url=http://remote:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsCommand(*runsFlags)
		},
	}

	cmd.Flags().IntVar(&runsFlags.Limit, "limit", 0, "maximum records to show (0 = all retained)")
	cmd.Flags().BoolVar(&runsFlags.JSON, "json", false, "print raw JSON instead of a table")

	// Remote supervisor connection
	cmd.Flags().StringVar(&runsFlags.APIUrl, "api-url", "", "supervisor URL (default http://127.0.0.1:8080)")
	cmd.Flags().DurationVar(&runsFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createInitCommand creates the init subcommand
func createInitCommand(initFlags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Long: `Write a commented starter config to the given path (default
everyd.toml in the current directory).

Supported task types:
  backup      - Nightly backup driven by a cron expression
  cleanup     - Hourly cleanup sweep
  report      - Daily report generation
  healthcheck - Frequent endpoint probe
  simple      - Minimal echo task

Examples:
  everyd init
  everyd init --type=backup /etc/everyd/everyd.toml
  everyd init --type=healthcheck --name=api-probe
  everyd init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitCommand(*initFlags, args)
		},
	}

	cmd.Flags().StringVar(&initFlags.Type, "type", "simple", "task type: backup, cleanup, report, healthcheck, simple")
	cmd.Flags().StringVar(&initFlags.Name, "name", "", "task name for the starter config (defaults to the type)")
	cmd.Flags().BoolVar(&initFlags.Force, "force", false, "overwrite an existing config file")

	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the everyd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("everyd %s\n", version)
		},
	}
}
