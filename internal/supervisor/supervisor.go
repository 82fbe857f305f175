package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	perrors "github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/rpc"
	"github.com/photon-dev/photon/internal/telemetry"
)

// RestartHint is printed whenever the worker cannot run.
const RestartHint = "edit a file or press r+Enter to restart"

// DefaultStopGrace is how long Stop waits before killing the worker.
const DefaultStopGrace = 5 * time.Second

// ErrNotRunning is returned by Restart when nothing was ever started.
var ErrNotRunning = errors.New("supervisor: worker was never started")

// ErrAlreadyStarted is returned by Start when a worker exists.
var ErrAlreadyStarted = errors.New("supervisor: worker already started")

// EntryResolver returns the current module id of the server entry.
type EntryResolver func(ctx context.Context) (string, error)

// Options configures a Supervisor.
type Options struct {
	Launcher Launcher
	Spec     LaunchSpec

	// ResolveEntry is consulted on every restart so the new worker loads
	// a fresh entry id. Nil keeps the id passed to Start.
	ResolveEntry EntryResolver

	// Server answers the worker's calls on every new channel.
	Server rpc.ServerAPI

	// StartTimeout bounds the start call. Defaults to rpc.DefaultStartTimeout.
	StartTimeout time.Duration

	// StopGrace defaults to DefaultStopGrace.
	StopGrace time.Duration

	// OnTransition observes every state change.
	OnTransition TransitionFunc

	// OnCrash is called when a running worker exits on its own.
	OnCrash func(err error)

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Supervisor owns the single dev worker.
type Supervisor struct {
	opts   Options
	logger *zap.Logger

	// opMu serializes Start, Restart and Stop.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	proc     *Process
	api      *rpc.WorkerAPI
	data     rpc.WorkerData
	started  bool
	restarts int64

	restartMu sync.Mutex
	inflight  *restartCall
}

// restartCall is a restart in progress. done is closed once err is final.
type restartCall struct {
	done chan struct{}
	err  error
}

var errRestartAborted = errors.New("supervisor: restart aborted")

// New creates a supervisor in the absent state.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger.Named("supervisor"),
		state:  StateAbsent,
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PID returns the worker's process id, or 0 without a worker.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID
}

// Restarts returns the number of completed restarts.
func (s *Supervisor) Restarts() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// WorkerData returns the data of the last start.
func (s *Supervisor) WorkerData() rpc.WorkerData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.Warn("invalid state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		return
	}
	s.state = to
	s.mu.Unlock()
	s.notify(from, to)
}

func (s *Supervisor) notify(from, to State) {
	s.logger.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	s.opts.Metrics.SetWorkerState(to.String())
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to)
	}
}

// Start launches a worker and asks it to import data.Entry. On failure the
// worker is killed and the supervisor returns to absent.
func (s *Supervisor) Start(ctx context.Context, data rpc.WorkerData) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, data)
}

func (s *Supervisor) start(ctx context.Context, data rpc.WorkerData) (err error) {
	if st := s.State(); st != StateAbsent {
		return ErrAlreadyStarted
	}
	ctx, span := telemetry.StartSpan(ctx, "supervisor.start", attribute.String("entry", data.Entry))
	defer func() { telemetry.EndSpan(span, err) }()
	defer func() {
		if r := recover(); r != nil {
			s.mu.RLock()
			proc := s.proc
			s.mu.RUnlock()
			s.fail(proc, fmt.Errorf("supervisor: start panicked: %v", r))
			panic(r)
		}
	}()

	s.mu.Lock()
	s.data = data
	s.started = true
	s.mu.Unlock()

	s.setState(StateStarting)

	spec := s.opts.Spec
	if data.Runtime != "" {
		spec.Runtime = data.Runtime
	}
	proc, err := s.opts.Launcher.Launch(ctx, spec)
	if err != nil {
		s.fail(nil, err)
		return err
	}

	if s.opts.Server != nil {
		rpc.RegisterServerAPI(proc.Peer, s.opts.Server)
	}
	go func() {
		if err := proc.Peer.Serve(context.Background()); err != nil {
			s.logger.Debug("rpc channel closed", zap.Error(err))
		}
	}()

	api := rpc.NewWorkerAPI(proc.Peer, s.opts.StartTimeout)
	s.mu.Lock()
	s.proc = proc
	s.api = api
	s.mu.Unlock()

	go s.watch(proc)

	started, res := api.Start(ctx, data)
	if !res.OK() {
		err := perrors.New("P140").
			WithDetail("Worker could not import " + data.Entry).
			WithSuggestion(RestartHint).
			Wrap(callError(res))
		s.fail(proc, err)
		return err
	}

	s.setState(StateRunning)
	s.logger.Info("worker running",
		zap.Int("pid", proc.PID),
		zap.Int("reported_pid", started.PID),
		zap.String("entry", data.Entry),
	)
	return nil
}

// fail kills proc and walks crashed -> absent.
func (s *Supervisor) fail(proc *Process, err error) {
	s.logger.Error("worker failed to start; "+RestartHint, zap.Error(err))
	s.setState(StateCrashed)
	if proc != nil {
		_ = proc.Kill()
	}
	s.clear(proc)
	s.setState(StateAbsent)
}

func (s *Supervisor) clear(proc *Process) {
	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
		s.api = nil
	}
	s.mu.Unlock()
}

// watch reports a running worker exiting on its own.
func (s *Supervisor) watch(proc *Process) {
	<-proc.Exited()

	s.mu.Lock()
	if s.proc != proc || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateAbsent
	s.proc = nil
	s.api = nil
	s.mu.Unlock()

	err := proc.Err()
	s.logger.Error("worker exited; "+RestartHint,
		zap.Int("pid", proc.PID),
		zap.Int("code", proc.ExitCode()),
		zap.Error(err),
	)
	s.notify(StateRunning, StateCrashed)
	s.notify(StateCrashed, StateAbsent)
	if s.opts.OnCrash != nil {
		if err == nil {
			err = errors.New("worker exited")
		}
		s.opts.OnCrash(err)
	}
}

// Restart kills the worker, waits for its exit and starts a new one with
// a freshly resolved entry. A restart requested while another is in
// progress does not start a second worker: it waits for the running one
// and returns its result.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	if c := s.inflight; c != nil {
		s.restartMu.Unlock()
		s.logger.Debug("restart coalesced")
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &restartCall{done: make(chan struct{}), err: errRestartAborted}
	s.inflight = c
	s.restartMu.Unlock()

	defer func() {
		s.restartMu.Lock()
		s.inflight = nil
		s.restartMu.Unlock()
		close(c.done)
	}()
	c.err = s.restart(ctx)
	return c.err
}

func (s *Supervisor) restart(ctx context.Context) (err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	started := s.started
	data := s.data
	s.mu.RUnlock()
	if !started {
		return ErrNotRunning
	}

	ctx, span := telemetry.StartSpan(ctx, "supervisor.restart")
	defer func() { telemetry.EndSpan(span, err) }()

	s.killCurrent()

	if s.opts.ResolveEntry != nil {
		entry, err := s.opts.ResolveEntry(ctx)
		if err != nil {
			s.logger.Error("cannot resolve entry; "+RestartHint, zap.Error(err))
			return err
		}
		data.Entry = entry
	}

	if err := s.start(ctx, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	s.opts.Metrics.RecordRestart()
	return nil
}

// killCurrent stops the worker unconditionally and returns after its exit.
func (s *Supervisor) killCurrent() {
	proc, from, ok := s.beginStopping()
	if !ok {
		return
	}
	s.notify(from, StateStopping)
	if err := proc.Kill(); err != nil {
		s.logger.Debug("kill", zap.Error(err))
	}
	s.clear(proc)
	s.setState(StateAbsent)
}

// beginStopping moves a live worker to stopping.
func (s *Supervisor) beginStopping() (*Process, State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if s.proc == nil || (from != StateRunning && from != StateStarting) {
		return nil, from, false
	}
	s.state = StateStopping
	return s.proc, from, true
}

// Stop terminates the worker, killing it after the stop grace period.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	proc, from, ok := s.beginStopping()
	if !ok {
		return nil
	}
	s.notify(from, StateStopping)

	done := make(chan error, 1)
	go func() { done <- proc.Stop(s.opts.StopGrace) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = proc.Kill()
	}
	s.clear(proc)
	s.setState(StateAbsent)
	return err
}

// InvalidateDepTree forwards ids to a running worker. Without one it is
// a no-op.
func (s *Supervisor) InvalidateDepTree(ctx context.Context, ids []string) error {
	api := s.runningAPI()
	if api == nil || len(ids) == 0 {
		return nil
	}
	return callError(api.InvalidateDepTree(ctx, ids))
}

// DeleteByModuleID forwards to a running worker. Without one it reports
// false.
func (s *Supervisor) DeleteByModuleID(ctx context.Context, id string) (bool, error) {
	api := s.runningAPI()
	if api == nil {
		return false, nil
	}
	deleted, res := api.DeleteByModuleID(ctx, id)
	return deleted, callError(res)
}

func (s *Supervisor) runningAPI() *rpc.WorkerAPI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return nil
	}
	return s.api
}

// callError maps a failed call to P160 (timed out), P162 (channel
// closed) or P161 (remote error). Successful calls give nil.
func callError(res rpc.Result) error {
	var code string
	switch {
	case res.OK():
		return nil
	case res.TimedOut():
		code = "P160"
	case errors.Is(res.Err, rpc.ErrClosed):
		code = "P162"
	default:
		code = "P161"
	}
	err := perrors.New(code)
	err.Detail = res.Method + ": " + err.Detail
	return err.Wrap(res.AsError())
}
