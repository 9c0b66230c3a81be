//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// configure puts the child in its own process group so a timeout also kills
// anything it spawned.
func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
