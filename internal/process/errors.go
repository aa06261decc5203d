package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// SpawnError means the executable could not be launched at all; there is no exit code.
type SpawnError struct {
	Command Command
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// NotFound reports whether the executable is missing from the search path
// (or the explicit path does not exist). A missing working directory is not
// reported as NotFound.
func (e *SpawnError) NotFound() bool {
	if errors.Is(e.Err, exec.ErrNotFound) {
		return true
	}
	var pe *fs.PathError
	if errors.As(e.Err, &pe) && pe.Op == "chdir" {
		return false
	}
	return errors.Is(e.Err, fs.ErrNotExist)
}

// TaskError is returned when a process exits with a nonzero status or is
// killed by a signal. Output holds everything the process wrote to stdout.
type TaskError struct {
	Command Command
	Code    int    // exit code, -1 when terminated by a signal
	State   string // e.g. "exit status 2" or "signal: interrupt"
	Output  string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command.Name, e.State)
}

// Detail is the text shown to users as diagnostic context.
func (e *TaskError) Detail() string {
	if e.Output != "" {
		return e.Output
	}
	return e.State
}

func newTaskError(c Command, err error, output string) *TaskError {
	te := &TaskError{Command: c, Code: -1, State: err.Error(), Output: output}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		te.Code = ee.ExitCode()
		te.State = ee.ProcessState.String()
	}
	return te
}

// IsNotFound reports whether err carries a SpawnError for a missing executable.
func IsNotFound(err error) bool {
	var se *SpawnError
	return errors.As(err, &se) && se.NotFound()
}

// Detail extracts the user-facing diagnostic text from err.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Detail()
	}
	return err.Error()
}
