//go:build !windows

package runner

import "syscall"

const (
	sigTerminate = syscall.SIGTERM
	sigKill      = syscall.SIGKILL
)

// killProcess sends a signal to a Unix process. A negative pid targets
// the process group.
func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
