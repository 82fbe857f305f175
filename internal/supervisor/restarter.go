package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/telemetry"
)

// EnvRestarter marks a process that runs under a Restarter.
const EnvRestarter = "PHOTON_RESTARTER"

// RestartExitCode asks the parent Restarter to launch the process again.
const RestartExitCode = 33

// Active reports whether this process is the child of a Restarter.
func Active() bool {
	return os.Getenv(EnvRestarter) != ""
}

// Restarter re-executes the CLI as a child and relaunches it each time it
// exits with RestartExitCode. The root process does nothing but supervise.
type Restarter struct {
	// Command builds the child command. Defaults to the running
	// executable with the same arguments.
	Command func(ctx context.Context) *exec.Cmd

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	mu        sync.Mutex
	launches  int
	done      chan struct{}
	closeOnce sync.Once
}

func (r *Restarter) init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		r.done = make(chan struct{})
	}
}

func (r *Restarter) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger.Named("restarter")
}

func (r *Restarter) exit(code int) {
	if r.Exit != nil {
		r.Exit(code)
		return
	}
	os.Exit(code)
}

// Install starts supervision in the root process and returns true there;
// the caller must then BlockForever. In a child it returns false and the
// caller continues with the normal command.
func (r *Restarter) Install(ctx context.Context) bool {
	if Active() {
		return false
	}
	r.init()
	go func() {
		code := r.Supervise(ctx)
		r.shutdown()
		r.exit(code)
	}()
	return true
}

// Supervise runs the child until it exits with a code other than
// RestartExitCode and returns that code.
func (r *Restarter) Supervise(ctx context.Context) int {
	r.init()
	log := r.logger()
	for {
		code, err := r.runOnce(ctx)
		if err != nil {
			log.Error("cannot run child", zap.Error(err))
			return 1
		}
		if code != RestartExitCode {
			return code
		}
		if ctx.Err() != nil {
			return 1
		}
		log.Info("restarting")
		r.Metrics.RecordRestart()
	}
}

func (r *Restarter) runOnce(ctx context.Context) (int, error) {
	cmd := r.command(ctx)
	cmd.Stdin = orReader(r.Stdin, os.Stdin)
	cmd.Stdout = orDefault(r.Stdout, os.Stdout)
	cmd.Stderr = orDefault(r.Stderr, os.Stderr)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, EnvRestarter+"=1")

	r.mu.Lock()
	r.launches++
	r.mu.Unlock()

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return 0, err
	}
}

func (r *Restarter) command(ctx context.Context) *exec.Cmd {
	if r.Command != nil {
		return r.Command(ctx)
	}
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return exec.CommandContext(ctx, exe, os.Args[1:]...)
}

// Launches returns how many times the child was started.
func (r *Restarter) Launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

// BlockForever parks the root process. It returns only when supervision
// has ended, right before the process exits; nothing else may run in the
// root after Install.
func (r *Restarter) BlockForever() {
	r.init()
	<-r.done
}

func (r *Restarter) shutdown() {
	r.closeOnce.Do(func() { close(r.done) })
}

// RequestRestart ends a child process with RestartExitCode. Outside a
// Restarter it returns false and does nothing.
func (r *Restarter) RequestRestart() bool {
	if !Active() {
		return false
	}
	r.exit(RestartExitCode)
	return true
}

func orReader(r io.Reader, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}
