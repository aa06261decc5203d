package orchestrator

import (
	"errors"
	"time"
)

// State is the orchestrator-wide lifecycle flag.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateReleasing
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateReleasing:
		return "releasing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "building":
		*s = StateBuilding
	case "releasing":
		*s = StateReleasing
	case "running":
		*s = StateRunning
	default:
		return errors.New("unknown state: " + string(b))
	}
	return nil
}

var (
	// ErrBusy rejects a build or release while another one is in flight.
	ErrBusy = errors.New("another task is in progress")
	// ErrAlreadyRunning rejects run while a run process is live or starting.
	ErrAlreadyRunning = errors.New("application is already running")
)

// Snapshot is a consistent view of the orchestrator at one instant.
//
// Task holds the build/release slot and is Idle when neither runs. The run
// slot is described by Running, Starting and Stopping; it may be occupied at
// the same time as the task slot (a build while the application runs).
type Snapshot struct {
	State     State     `json:"state"`
	Task      State     `json:"task"`
	Running   bool      `json:"running"`
	Starting  bool      `json:"starting"`
	Stopping  bool      `json:"stopping"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
