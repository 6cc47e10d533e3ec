//go:build windows

package execution

import (
	"os/exec"
	"strconv"
)

func shellInvocation(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// taskkill /T takes the child tree down with the shell.
		_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
		return cmd.Process.Kill()
	}
}
