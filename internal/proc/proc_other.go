//go:build !unix

package proc

import (
	"os"
	"os/exec"
)

func SetProcessGroup(cmd *exec.Cmd) {}

// Terminate falls back to killing the process; there are no process groups to signal here.
func Terminate(cmd *exec.Cmd) error {
	return Kill(cmd)
}

func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
