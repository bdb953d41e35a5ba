//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals aimed
// at the panel do not reach the worker.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
