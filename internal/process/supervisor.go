package process

import (
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// Supervisor launches external commands inside the project directory.
// The zero value runs commands in the current directory with the inherited environment.
type Supervisor struct {
	WorkDir string
	Env     []string  // full "K=V" environment; nil inherits the parent's
	Stderr  io.Writer // optional sink for stderr; discarded when nil
}

// NewSupervisor returns a Supervisor rooted at workDir.
func NewSupervisor(workDir string, env []string) *Supervisor {
	return &Supervisor{WorkDir: workDir, Env: env}
}

// Spawn starts c without waiting for it. Stdout starts accumulating immediately
// unless c.NoCapture is set.
// When the executable cannot be launched the error is a *SpawnError.
func (s *Supervisor) Spawn(c Command) (*Handle, error) {
	// #nosec G204 -- commands come from the project configuration
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = s.WorkDir
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)

	h := &Handle{id: uuid.NewString(), command: c, cmd: cmd, done: make(chan struct{})}
	switch {
	case c.NoCapture:
		if c.Output != nil {
			cmd.Stdout = teeWriter{primary: io.Discard, secondary: c.Output}
		}
	case c.Output != nil:
		cmd.Stdout = teeWriter{primary: &h.out, secondary: c.Output}
	default:
		cmd.Stdout = &h.out
	}
	if s.Stderr != nil {
		cmd.Stderr = s.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: c, Err: err}
	}
	h.started = time.Now()
	slog.Debug("Process spawned", "command", c.String(), "pid", h.PID(), "id", h.id)

	go h.monitor()
	return h, nil
}

// Run spawns c and waits for it to exit.
func (s *Supervisor) Run(c Command) (string, error) {
	h, err := s.Spawn(c)
	if err != nil {
		return "", err
	}
	return h.Wait()
}
