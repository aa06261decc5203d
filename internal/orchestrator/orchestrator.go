package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/firestarter/internal/metrics"
	"github.com/loykin/firestarter/internal/notify"
	"github.com/loykin/firestarter/internal/process"
)

// Notification texts shown for each intent.
const (
	msgBuilding       = "Building..."
	msgBuildOK        = "Build succeeded."
	msgBuildFailed    = "Could not build."
	msgReleasing      = "Releasing..."
	msgReleaseOK      = "Release succeeded."
	msgReleaseFailed  = "Could not release."
	msgStarting       = "Starting..."
	msgStarted        = "Started."
	msgRunFailed      = "Could not run."
	msgStopping       = "Stopping..."
	msgStopped        = "Successfully stopped."
	msgStopFailed     = "Could not stop."
	msgRestarting     = "Restarting..."
	msgRestartFailed  = "Could not restart."
	msgMigrating      = "Migrating..."
	msgMigrateOKFmt   = "Migrated successfully to version `%d`."
	msgMigrateFailFmt = "Failed to migrate to version `%d`."
)

// Options configures an Orchestrator.
type Options struct {
	Spawner  Spawner
	Notifier notify.Notifier // defaults to notify.Log{}
	Commands Commands

	// OnChange is called after every state-affecting event, outside any lock.
	OnChange func()
	// RunOutput receives a copy of the run process stdout.
	RunOutput io.Writer
	// StopSignal terminates the run process; os.Interrupt when nil.
	StopSignal os.Signal
}

// Orchestrator owns the build/release task slot and the run process.
//
// Every transition happens under mu; process waits happen outside it.
// The run slot is written by Run and cleared by its exit observer only.
type Orchestrator struct {
	spawner Spawner
	notify  notify.Notifier
	cmds    Commands
	runOut  io.Writer
	stopSig os.Signal

	mu        sync.Mutex
	onChange  func()
	task      State
	run       *runSlot
	published State
}

type runSlot struct {
	proc     Process // nil while starting
	starting bool
	stopping bool
	started  time.Time
	ready    chan struct{} // closed once starting has resolved either way
	exited   chan struct{} // closed after the slot has been cleared
}

// New returns an idle orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		spawner:  opts.Spawner,
		notify:   opts.Notifier,
		cmds:     opts.Commands,
		onChange: opts.OnChange,
		runOut:   opts.RunOutput,
		stopSig:  opts.StopSignal,
	}
	if o.spawner == nil {
		o.spawner = FromSupervisor(process.NewSupervisor("", nil))
	}
	if o.notify == nil {
		o.notify = notify.Log{}
	}
	if o.stopSig == nil {
		o.stopSig = os.Interrupt
	}
	return o
}

// State returns the single orchestrator-wide state. A busy task slot wins
// over a live run process.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() State {
	if o.task != StateIdle {
		return o.task
	}
	if o.run != nil {
		return StateRunning
	}
	return StateIdle
}

// Snapshot returns the current state of both slots.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{State: o.stateLocked(), Task: o.task}
	if r := o.run; r != nil {
		s.Running = r.proc != nil
		s.Starting = r.starting
		s.Stopping = r.stopping
		s.StartedAt = r.started
		if r.proc != nil {
			s.PID = r.proc.PID()
		}
	}
	return s
}

// RunProcess returns the live run process, or nil.
func (o *Orchestrator) RunProcess() Process {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil || o.run.proc == nil {
		return nil
	}
	return o.run.proc
}

// RunPID returns the pid of the live run process, or 0.
func (o *Orchestrator) RunPID() int {
	if p := o.RunProcess(); p != nil {
		return p.PID()
	}
	return 0
}

// publish records a state transition and informs the observer.
// Must be called without holding mu.
func (o *Orchestrator) publish() {
	o.mu.Lock()
	prev, cur := o.published, o.stateLocked()
	o.published = cur
	onChange := o.onChange
	o.mu.Unlock()

	if prev != cur {
		slog.Debug("Orchestrator state changed", "from", prev.String(), "to", cur.String())
		metrics.RecordStateTransition(prev.String(), cur.String())
	}
	if onChange != nil {
		onChange()
	}
}

// SetOnChange replaces the state change observer (thread-safe).
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// Build runs the build command. It is rejected with ErrBusy while a build
// or release is in flight.
func (o *Orchestrator) Build() error {
	return o.runTask("build", StateBuilding, o.cmds.Build, msgBuilding, msgBuildOK, msgBuildFailed, false)
}

// Release runs the release command after a successful sanity check.
func (o *Orchestrator) Release() error {
	return o.runTask("release", StateReleasing, o.cmds.Release, msgReleasing, msgReleaseOK, msgReleaseFailed, true)
}

func (o *Orchestrator) runTask(kind string, busy State, cmd process.Command, startMsg, okMsg, failMsg string, sanity bool) error {
	o.mu.Lock()
	if o.task != StateIdle {
		current := o.task
		o.mu.Unlock()
		err := fmt.Errorf("%s: %w (%s)", kind, ErrBusy, current)
		slog.Warn("Task rejected", "kind", kind, "busy", current.String())
		o.notify.Error(failMsg, fmt.Sprintf("Another task is in progress (%s).", current))
		metrics.ObserveTask(kind, metrics.OutcomeRejected, 0)
		return err
	}
	o.task = busy
	o.mu.Unlock()
	o.publish()

	defer func() {
		o.mu.Lock()
		o.task = StateIdle
		o.mu.Unlock()
		o.publish()
	}()

	start := time.Now()
	o.notify.Info(startMsg)

	if sanity {
		if err := o.sanityCheck(); err != nil {
			metrics.ObserveTask(kind, metrics.OutcomeFailure, time.Since(start).Seconds())
			return fmt.Errorf("%s: %w", kind, err)
		}
	}

	if _, err := o.exec(cmd); err != nil {
		slog.Error("Task failed", "kind", kind, "command", cmd.String(), "error", err)
		o.notify.Error(failMsg, process.Detail(err))
		metrics.ObserveTask(kind, metrics.OutcomeFailure, time.Since(start).Seconds())
		return fmt.Errorf("%s: %w", kind, err)
	}
	slog.Info("Task succeeded", "kind", kind, "duration", time.Since(start))
	o.notify.Success(okMsg)
	metrics.ObserveTask(kind, metrics.OutcomeSuccess, time.Since(start).Seconds())
	return nil
}

// Run starts the application after a successful sanity check and returns
// once it has been spawned. A one-shot observer clears the run slot when
// the process exits for any reason.
func (o *Orchestrator) Run() error {
	o.mu.Lock()
	if o.run != nil {
		o.mu.Unlock()
		slog.Warn("Run requested while the application process is still active")
		o.notify.Error(msgRunFailed, "The application is already running.")
		return ErrAlreadyRunning
	}
	if o.task == StateReleasing {
		o.mu.Unlock()
		o.notify.Error(msgRunFailed, "A release is in progress.")
		return fmt.Errorf("run: %w (%s)", ErrBusy, StateReleasing)
	}
	slot := &runSlot{starting: true, ready: make(chan struct{}), exited: make(chan struct{})}
	o.run = slot
	o.mu.Unlock()
	o.publish()

	start := time.Now()
	o.notify.Info(msgStarting)

	if err := o.sanityCheck(); err != nil {
		o.abandon(slot)
		metrics.ObserveTask("run", metrics.OutcomeFailure, time.Since(start).Seconds())
		return fmt.Errorf("run: %w", err)
	}

	cmd := o.cmds.Run.Streamed()
	if o.runOut != nil {
		cmd = cmd.WithOutput(o.runOut)
	}
	proc, err := o.spawner.Spawn(cmd)
	if err != nil {
		o.abandon(slot)
		slog.Error("Could not start application", "command", cmd.String(), "error", err)
		o.notify.Error(msgRunFailed, process.Detail(err))
		metrics.ObserveTask("run", metrics.OutcomeFailure, time.Since(start).Seconds())
		return fmt.Errorf("run: %w", err)
	}

	o.mu.Lock()
	slot.proc = proc
	slot.starting = false
	slot.started = time.Now()
	close(slot.ready)
	o.mu.Unlock()

	go o.observe(slot)

	slog.Info("Application started", "command", cmd.String(), "pid", proc.PID())
	o.notify.Success(msgStarted)
	metrics.ObserveTask("run", metrics.OutcomeSuccess, time.Since(start).Seconds())
	o.publish()
	return nil
}

// abandon clears a slot whose start failed.
func (o *Orchestrator) abandon(slot *runSlot) {
	o.mu.Lock()
	if o.run == slot {
		o.run = nil
	}
	slot.starting = false
	close(slot.ready)
	close(slot.exited)
	o.mu.Unlock()
	o.publish()
}

func (o *Orchestrator) observe(slot *runSlot) {
	pid := slot.proc.PID()
	_, err := slot.proc.Wait()

	o.mu.Lock()
	stopping := slot.stopping
	if o.run == slot {
		o.run = nil
	}
	close(slot.exited)
	o.mu.Unlock()

	switch {
	case err == nil || stopping:
		slog.Info("Application exited", "pid", pid, "uptime", time.Since(slot.started))
	default:
		slog.Warn("Application exited unexpectedly", "pid", pid, "error", err)
	}
	metrics.SetRunUsage(0, 0)
	o.publish()
}

// Stop terminates the run process and waits for it to exit. Without a live
// process it returns nil immediately.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.notify.Info(msgStopping)
	if err := o.stop(ctx); err != nil {
		o.notify.Error(msgStopFailed, err.Error())
		return fmt.Errorf("stop: %w", err)
	}
	o.notify.Success(msgStopped)
	return nil
}

func (o *Orchestrator) stop(ctx context.Context) error {
	for {
		o.mu.Lock()
		slot := o.run
		if slot == nil {
			o.mu.Unlock()
			return nil
		}
		if slot.proc == nil {
			// still starting; wait for the outcome and look again
			o.mu.Unlock()
			select {
			case <-slot.ready:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		first := !slot.stopping
		slot.stopping = true
		proc := slot.proc
		o.mu.Unlock()

		if first {
			o.publish()
			slog.Info("Stopping application", "pid", proc.PID(), "signal", o.stopSig.String())
			if err := proc.Terminate(o.stopSig); err != nil {
				slog.Warn("Failed to signal application", "pid", proc.PID(), "error", err)
			}
		}
		select {
		case <-slot.exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Restart stops the run process, waits for its exit and runs it again.
func (o *Orchestrator) Restart(ctx context.Context) error {
	o.notify.Info(msgRestarting)
	if err := o.stop(ctx); err != nil {
		o.notify.Error(msgRestartFailed, err.Error())
		return fmt.Errorf("restart: %w", err)
	}
	return o.Run()
}

// BuildAndRestart builds, then stops and runs the application. A failing
// step skips the remaining ones.
func (o *Orchestrator) BuildAndRestart(ctx context.Context) error {
	if err := o.Build(); err != nil {
		return err
	}
	return o.Restart(ctx)
}

// Migrate runs the migrate command for one version. It does not touch the
// task state and does not guard against re-applying a version.
func (o *Orchestrator) Migrate(app string, version int) error {
	cmd := o.cmds.Migrate.Expand(map[string]string{"app": app, "version": strconv.Itoa(version)})
	start := time.Now()
	o.notify.Info(msgMigrating)
	if _, err := o.exec(cmd); err != nil {
		slog.Error("Migration failed", "app", app, "version", version, "error", err)
		o.notify.Error(fmt.Sprintf(msgMigrateFailFmt, version), process.Detail(err))
		metrics.ObserveTask("migrate", metrics.OutcomeFailure, time.Since(start).Seconds())
		return fmt.Errorf("migrate %s to %d: %w", app, version, err)
	}
	slog.Info("Migration applied", "app", app, "version", version)
	o.notify.Success(fmt.Sprintf(msgMigrateOKFmt, version))
	metrics.ObserveTask("migrate", metrics.OutcomeSuccess, time.Since(start).Seconds())
	return nil
}

// Shutdown stops the run process without notifications.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.stop(ctx)
}

func (o *Orchestrator) exec(c process.Command) (string, error) {
	p, err := o.spawner.Spawn(c)
	if err != nil {
		return "", err
	}
	return p.Wait()
}
