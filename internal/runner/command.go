package runner

import (
	"os/exec"
	"strings"
)

// BuildCommand constructs the *exec.Cmd for the worker.
// An explicit Args list executes Command verbatim with those arguments.
// Otherwise the command string follows shell rules: an explicit shell
// invocation ("sh -c ...") is honored without double-wrapping, strings
// containing metacharacters route through the shell, and plain strings
// are field-split.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It returns (afterCArg, true) when matched,
// preserving the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so
			// that we pass the actual script to the shell (the outer quotes
			// would otherwise inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
