package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/firestarter/internal/process"
)

// SanityError means the runtime check failed before a run or release.
type SanityError struct {
	Command process.Command
	Err     error
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("runtime check %q failed: %v", e.Command.String(), e.Err)
}

func (e *SanityError) Unwrap() error { return e.Err }

// NotFoundDetail explains a runtime missing from PATH. Applications started
// from a desktop launcher often get a different PATH than a login shell.
func NotFoundDetail(runtime string) string {
	return strings.Join([]string{
		fmt.Sprintf("Do you have `%s` installed or is your `PATH` configured properly for GUI apps? This is different from console apps.", runtime),
		"",
		"Set up PATH for applications launched outside a terminal (for example through launchctl, systemd user environment or your desktop session) and try again.",
	}, "\n")
}

// sanityCheck runs the runtime command and reports a failure with exactly one
// notification.
func (o *Orchestrator) sanityCheck() error {
	check := o.cmds.Runtime
	if check.Empty() {
		return nil
	}
	if _, err := o.exec(check); err != nil {
		title := fmt.Sprintf("Could not run `%s`.", check.String())
		if process.IsNotFound(err) {
			slog.Error("Runtime not found", "command", check.String(), "error", err)
			o.notify.Error(title, NotFoundDetail(check.Name))
		} else {
			slog.Error("Runtime check failed", "command", check.String(), "error", err)
			o.notify.Error(title, process.Detail(err))
		}
		return &SanityError{Command: check, Err: err}
	}
	return nil
}
