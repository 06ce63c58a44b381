//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so the
// termination request and the forced kill reach the whole worker tree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
