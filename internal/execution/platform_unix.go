//go:build !windows

package execution

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func shellInvocation(command string) (string, []string) {
	return "/bin/sh", []string{"-c", command}
}

// configureProcessGroup puts the child in its own process group so a
// timeout kills every descendant, not just the shell.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil && pgid > 0 {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
}
