//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

// detach puts ffmpeg in its own process group so a terminal Ctrl+C reaches only the CLI,
// which then stops the capture through Finish.
func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
