package orchestrator

import (
	"os"

	"github.com/loykin/firestarter/internal/process"
)

// Process is the part of a spawned process the orchestrator relies on.
// *process.Handle satisfies it.
type Process interface {
	PID() int
	Done() <-chan struct{}
	Wait() (string, error)
	Terminate(sig os.Signal) error
}

// Spawner launches commands.
type Spawner interface {
	Spawn(c process.Command) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(c process.Command) (Process, error)

func (f SpawnerFunc) Spawn(c process.Command) (Process, error) { return f(c) }

// FromSupervisor adapts a process.Supervisor.
func FromSupervisor(s *process.Supervisor) Spawner {
	return SpawnerFunc(func(c process.Command) (Process, error) {
		h, err := s.Spawn(c)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

// Commands are the external commands behind each task kind.
// Migrate may reference {app} and {version}.
type Commands struct {
	Runtime process.Command // sanity check; skipped when empty
	Build   process.Command
	Release process.Command
	Run     process.Command
	Migrate process.Command
}

// DefaultCommands drive a grunt based node project.
func DefaultCommands() Commands {
	return Commands{
		Runtime: process.ParseCommand("node -v"),
		Build:   process.ParseCommand("grunt build"),
		Release: process.ParseCommand("grunt release"),
		Run:     process.ParseCommand("grunt run"),
		Migrate: process.ParseCommand("grunt release:migrate:{version}"),
	}
}
