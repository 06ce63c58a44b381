//go:build windows

package runner

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const CREATE_NEW_PROCESS_GROUP = 0x00000200

// setProcessGroup creates a new process group on Windows so termination
// reaches the worker and its children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: CREATE_NEW_PROCESS_GROUP}
}
