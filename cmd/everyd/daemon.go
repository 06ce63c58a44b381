package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// daemonize re-execs the current binary in a new session, detached from
// the terminal, and exits the parent. It returns nil without exiting
// only when the process is already running as a daemon.
func daemonize(logFile string) error {
	// Check if already running as daemon (child process)
	if os.Getppid() == 1 {
		// Already running as daemon
		return nil
	}

	// Get current executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Create the child process
	// #nosec 204
	cmd := exec.Command(executable, daemonArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)

	// Redirect stdin, stdout, stderr
	cmd.Stdin = nil
	if logFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	} else {
		// Discard output
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)

	// Parent process exits; the child serves.
	os.Exit(0)
	return nil
}

// daemonArgs strips the --daemonize flag so the child runs in the
// foreground of its new session. Pidfile and logfile flags pass through.
func daemonArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if arg == "--daemonize" || strings.HasPrefix(arg, "--daemonize=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	// #nosec 302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
