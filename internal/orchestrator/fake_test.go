package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loykin/firestarter/internal/notify"
	"github.com/loykin/firestarter/internal/process"
)

// fakeProc is a scripted process. It exits when told to or when terminated.
type fakeProc struct {
	pid     int
	rec     *fakeSpawner
	done    chan struct{}
	once    sync.Once
	out     string
	err     error
	mu      sync.Mutex
	signals []os.Signal
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) Wait() (string, error) {
	<-p.done
	return p.out, p.err
}

func (p *fakeProc) Terminate(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	p.exit("", &process.TaskError{Code: -1, State: "signal: " + sig.String()})
	return nil
}

func (p *fakeProc) exit(out string, err error) {
	p.once.Do(func() {
		p.rec.record(fmt.Sprintf("exit %d", p.pid))
		p.out, p.err = out, err
		close(p.done)
	})
}

func (p *fakeProc) signalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

// behavior decides what happens to one spawned command.
type behavior func(p *fakeProc) error

func succeed(out string) behavior {
	return func(p *fakeProc) error { p.exit(out, nil); return nil }
}

func fail(out string, code int) behavior {
	return func(p *fakeProc) error {
		p.exit(out, &process.TaskError{Code: code, State: fmt.Sprintf("exit status %d", code), Output: out})
		return nil
	}
}

func notFound() behavior {
	return func(p *fakeProc) error { return exec.ErrNotFound }
}

// hang leaves the process running until exit or Terminate.
func hang() behavior { return func(p *fakeProc) error { return nil } }

type fakeSpawner struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	events    []string
	procs     map[string][]*fakeProc
	commands  map[string][]process.Command
	nextPID   int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		behaviors: map[string]behavior{},
		procs:     map[string][]*fakeProc{},
		commands:  map[string][]process.Command{},
	}
}

// on scripts every spawn of the command line key.
func (f *fakeSpawner) on(key string, b behavior) {
	f.mu.Lock()
	f.behaviors[key] = b
	f.mu.Unlock()
}

func (f *fakeSpawner) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeSpawner) Spawn(c process.Command) (Process, error) {
	key := c.String()
	f.mu.Lock()
	b := f.behaviors[key]
	f.nextPID++
	f.commands[key] = append(f.commands[key], c)
	p := &fakeProc{pid: f.nextPID, rec: f, done: make(chan struct{})}
	f.mu.Unlock()

	if b == nil {
		b = succeed("")
	}
	if err := b(p); err != nil {
		f.record("failed " + key)
		return nil, &process.SpawnError{Command: c, Err: err}
	}
	f.mu.Lock()
	f.events = append(f.events, fmt.Sprintf("spawn %s %d", key, p.pid))
	f.procs[key] = append(f.procs[key], p)
	f.mu.Unlock()
	return p, nil
}

// received returns the commands passed to Spawn for key, in order.
func (f *fakeSpawner) received(key string) []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Command(nil), f.commands[key]...)
}

func (f *fakeSpawner) spawned(key string) []*fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeProc(nil), f.procs[key]...)
}

func (f *fakeSpawner) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func indexOf(events []string, ev string) int {
	for i, e := range events {
		if e == ev {
			return i
		}
	}
	return -1
}

func texts(b *notify.Buffer) []string {
	var out []string
	for _, n := range b.Since(0) {
		out = append(out, string(n.Level)+": "+n.Text)
	}
	return out
}
