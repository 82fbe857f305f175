package supervisor

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	perrors "github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/rpc"
)

// EnvRuntime selects the worker runtime when the config does not.
const EnvRuntime = "PHOTON_RUNTIME"

// EnvRPCFDs tells the worker which descriptors carry the RPC channel.
const EnvRPCFDs = "PHOTON_RPC_FDS"

// BootstrapFile is where the worker script is written, relative to the root.
const BootstrapFile = ".photon/worker.mjs"

//go:embed worker.mjs
var bootstrap []byte

// LaunchSpec describes the worker to launch.
type LaunchSpec struct {
	// Runtime is node, deno or bun. Empty falls back to $PHOTON_RUNTIME
	// and then node.
	Runtime string
	// Root is the project directory; the worker runs there.
	Root string
	// Env is appended to the parent's environment.
	Env []string
	// Stdout and Stderr default to the parent's.
	Stdout io.Writer
	Stderr io.Writer
	// RPCTimeout bounds calls in both directions.
	RPCTimeout time.Duration
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Process, error)
}

// Process is a launched worker.
type Process struct {
	PID  int
	Peer *rpc.Peer

	kill      func() error
	terminate func() error

	exitOnce sync.Once
	exited   chan struct{}
	code     int
	err      error
}

// NewProcess wraps a worker reachable through peer. kill must stop the
// process unconditionally; terminate may be nil.
func NewProcess(pid int, peer *rpc.Peer, kill, terminate func() error) *Process {
	if terminate == nil {
		terminate = kill
	}
	return &Process{
		PID:       pid,
		Peer:      peer,
		kill:      kill,
		terminate: terminate,
		exited:    make(chan struct{}),
		code:      -1,
	}
}

// MarkExited records the exit. Only the first call has an effect.
func (p *Process) MarkExited(code int, err error) {
	p.exitOnce.Do(func() {
		p.code = code
		p.err = err
		close(p.exited)
		if p.Peer != nil {
			_ = p.Peer.Close()
		}
	})
}

// Exited is closed once the process has exited.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitCode returns the exit code, or -1 while running or when killed by
// a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.code
	default:
		return -1
	}
}

// Err returns the wait error after exit.
func (p *Process) Err() error {
	select {
	case <-p.exited:
		return p.err
	default:
		return nil
	}
}

// Kill stops the process immediately and waits for the exit.
func (p *Process) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := p.kill()
	<-p.exited
	return err
}

// Stop asks the process to exit and kills it after grace.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	_ = p.terminate()
	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
		return p.Kill()
	}
}

// CommandFunc builds the command for a worker.
type CommandFunc func(spec LaunchSpec) (*exec.Cmd, error)

// ExecLauncher launches workers as child processes with the RPC channel on
// two pipes.
type ExecLauncher struct {
	Command CommandFunc
	Logger  *zap.Logger
	// Observer receives RPC call outcomes.
	Observer rpc.Observer
}

// NewRuntimeLauncher returns a launcher that runs the embedded bootstrap
// on node, deno or bun.
func NewRuntimeLauncher(logger *zap.Logger, observer rpc.Observer) *ExecLauncher {
	return &ExecLauncher{Command: RuntimeCommand, Logger: logger, Observer: observer}
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	spec.Runtime = ResolveRuntime(spec.Runtime)

	cmd, err := l.Command(spec)
	if err != nil {
		return nil, err
	}

	// parent -> child
	childR, parentW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	// child -> parent
	parentR, childW, err := os.Pipe()
	if err != nil {
		childR.Close()
		parentW.Close()
		return nil, err
	}
	closeAll := func(files ...*os.File) {
		for _, f := range files {
			f.Close()
		}
	}

	cmd.Stdout = orDefault(spec.Stdout, os.Stdout)
	cmd.Stderr = orDefault(spec.Stderr, os.Stderr)
	attachChannel(cmd, childR, childW)
	cmd.Env = append(append(os.Environ(), cmd.Env...), spec.Env...)
	cmd.Env = append(cmd.Env,
		EnvRuntime+"="+spec.Runtime,
		EnvRPCFDs+"="+rpcFDs,
		"PHOTON_RPC_TIMEOUT_MS="+strconv.FormatInt(timeoutOrDefault(spec.RPCTimeout).Milliseconds(), 10),
	)

	h, err := startProcess(cmd)
	if err != nil {
		closeAll(childR, childW, parentR, parentW)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, perrors.New("P141").WithDetail(spec.Runtime + " is not installed").Wrap(err)
		}
		return nil, perrors.New("P140").Wrap(err)
	}
	closeAll(childR, childW)

	peer := rpc.NewPeer(parentR, parentW, rpc.Options{
		Timeout:  spec.RPCTimeout,
		Logger:   logger,
		Observer: l.Observer,
	})
	proc := NewProcess(cmd.Process.Pid, peer, h.kill, h.terminate)

	go func() {
		err := cmd.Wait()
		h.release()
		parentR.Close()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		proc.MarkExited(code, err)
	}()

	logger.Debug("worker launched",
		zap.String("runtime", spec.Runtime),
		zap.Int("pid", proc.PID),
	)
	return proc, nil
}

// ResolveRuntime applies the runtime fallbacks.
func ResolveRuntime(runtime string) string {
	if runtime != "" {
		return runtime
	}
	if env := os.Getenv(EnvRuntime); env != "" {
		return env
	}
	return "node"
}

// RuntimeCommand builds the command running the bootstrap with spec.Runtime.
func RuntimeCommand(spec LaunchSpec) (*exec.Cmd, error) {
	script, err := WriteBootstrap(spec.Root)
	if err != nil {
		return nil, err
	}

	var args []string
	switch spec.Runtime {
	case "node":
		args = []string{"--enable-source-maps", script}
	case "deno":
		args = []string{"run", "--allow-all", script}
	case "bun":
		args = []string{"run", script}
	default:
		return nil, perrors.New("P112").WithDetail("unsupported dev runtime " + strconv.Quote(spec.Runtime))
	}

	bin, err := exec.LookPath(spec.Runtime)
	if err != nil {
		return nil, perrors.New("P141").
			WithDetail(spec.Runtime + " was not found in PATH").
			WithSuggestion("Install " + spec.Runtime + " or set dev.runtime / " + EnvRuntime).
			Wrap(err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = spec.Root
	cmd.Env = append(cmd.Env, "NODE_ENV=development")
	return cmd, nil
}

// WriteBootstrap writes the worker script under root and returns its path.
func WriteBootstrap(root string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(BootstrapFile))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("write worker bootstrap: %w", err)
	}
	if err := os.WriteFile(path, bootstrap, 0644); err != nil {
		return "", fmt.Errorf("write worker bootstrap: %w", err)
	}
	return path, nil
}

func orDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return rpc.DefaultTimeout
	}
	return d
}
