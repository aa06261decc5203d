//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// signalGroup delivers sig to the whole process group of cmd.
func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	s, ok := sig.(syscall.Signal)
	if !ok {
		return cmd.Process.Signal(sig)
	}
	err := syscall.Kill(-cmd.Process.Pid, s)
	if errors.Is(err, syscall.ESRCH) {
		// already gone; the monitor will reap it
		return nil
	}
	return err
}
