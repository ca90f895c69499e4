// Package daemon detaches the process from its controlling terminal.
//
// Go cannot fork safely once the runtime has started threads, so the process
// re-executes itself in a new session instead. The child is marked through
// the environment and carries on from main as usual.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// EnvMarker is set in the environment of the detached child.
const EnvMarker = "STREAMGET_DAEMON"

// IsChild reports whether this process is the detached child.
func IsChild() bool {
	return os.Getenv(EnvMarker) == "1"
}

// Daemonize starts a detached copy of the running binary with the same
// arguments and returns its pid. The caller, being the parent, should exit
// right after. In the child it does nothing and returns 0.
//
// It must run before any log, lock, or output file is opened so the child
// opens its own descriptors rather than inheriting ones bound to a terminal.
func Daemonize() (int, error) {
	if IsChild() {
		return 0, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), EnvMarker+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release detached process: %w", err)
	}

	return pid, nil
}
