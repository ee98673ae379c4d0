//go:build linux

package chromium

import (
	"os/exec"
	"syscall"
)

// killAfterParent makes the kernel kill the browser when this process dies,
// even if it dies without running any cleanup.
func killAfterParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
