package process

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle is the exclusive reference to one spawned process.
//
// The completion result is resolved exactly once, when the process has exited
// and its stdout has been drained. Wait and Done may be used from any number of
// goroutines.
type Handle struct {
	id      string
	command Command
	cmd     *exec.Cmd
	started time.Time

	out  lockedBuffer
	done chan struct{} // closed after output/err are set

	output  string
	err     error
	stopped time.Time
}

// ID is a unique identity for this spawn.
func (h *Handle) ID() string { return h.id }

// Command returns the command this handle was spawned from.
func (h *Handle) Command() Command { return h.command }

// PID of the spawned process.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartedAt is the time the process was launched.
func (h *Handle) StartedAt() time.Time { return h.started }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited, without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits. On a zero exit it returns the captured
// stdout; otherwise a *TaskError that carries the same output.
func (h *Handle) Wait() (string, error) {
	<-h.done
	return h.output, h.err
}

// Terminate asks the process (and its process group) to exit with sig.
// It does not wait; use Wait or Done to observe the actual exit.
// Terminating an already exited process is a no-op.
func (h *Handle) Terminate(sig os.Signal) error {
	if h.Exited() {
		return nil
	}
	return signalGroup(h.cmd, sig)
}

func (h *Handle) monitor() {
	err := h.cmd.Wait()
	// Converted once, after the last chunk has been copied.
	out := h.out.String()
	h.output = out
	if err != nil {
		h.err = newTaskError(h.command, err, out)
	}
	h.stopped = time.Now()
	close(h.done)
}

// lockedBuffer accumulates raw chunks; it is written by the exec copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// teeWriter writes to the capture buffer first; the secondary writer is best-effort.
type teeWriter struct {
	primary   io.Writer
	secondary io.Writer
}

func (t teeWriter) Write(p []byte) (int, error) {
	n, err := t.primary.Write(p)
	if err != nil {
		return n, err
	}
	_, _ = t.secondary.Write(p)
	return n, nil
}
