//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// signalGroup terminates the process. Windows has no interrupt for
// non-console children, so every signal becomes a kill.
func signalGroup(cmd *exec.Cmd, _ os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
