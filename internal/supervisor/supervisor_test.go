package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/rpc"
)

// recordingLauncher remembers launched processes and whether the previous
// one had exited before the next launch.
type recordingLauncher struct {
	inner   Launcher
	gate    chan struct{}
	entered chan struct{}

	mu         sync.Mutex
	procs      []*Process
	prevExited []bool
}

func (l *recordingLauncher) Launch(ctx context.Context, spec LaunchSpec) (*Process, error) {
	l.mu.Lock()
	exited := true
	if n := len(l.procs); n > 0 {
		select {
		case <-l.procs[n-1].Exited():
		default:
			exited = false
		}
	}
	l.prevExited = append(l.prevExited, exited)
	gate := l.gate
	later := len(l.prevExited) > 1
	l.mu.Unlock()

	if gate != nil && later {
		l.entered <- struct{}{}
		<-gate
	}

	p, err := l.inner.Launch(ctx, spec)
	if err == nil {
		l.mu.Lock()
		l.procs = append(l.procs, p)
		l.mu.Unlock()
	}
	return p, err
}

func (l *recordingLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

type transitions struct {
	mu  sync.Mutex
	seq []string
}

func (t *transitions) record(from, to State) {
	t.mu.Lock()
	t.seq = append(t.seq, from.String()+">"+to.String())
	t.mu.Unlock()
}

func (t *transitions) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.seq...)
}

type fakeServer struct{}

func (fakeServer) FetchModule(ctx context.Context, id, importer string) (*rpc.FetchResult, error) {
	return &rpc.FetchResult{Code: "export default 1", ID: id, File: id}, nil
}

func (fakeServer) ModuleGraphResolveURL(ctx context.Context, url string) (*rpc.ResolvedURL, error) {
	return &rpc.ResolvedURL{URL: url, ID: url}, nil
}

func (fakeServer) ModuleGraphGetModuleByID(ctx context.Context, id string) (*rpc.MinimalModuleNode, error) {
	return nil, nil
}

func (fakeServer) TransformIndexHTML(ctx context.Context, url, html, originalURL string) (string, error) {
	return html, nil
}

func newTestSupervisor(t *testing.T, mode string, opts Options) (*Supervisor, *recordingLauncher, *transitions) {
	t.Helper()
	rl := &recordingLauncher{inner: &ExecLauncher{Command: helperCommand(mode)}}
	if opts.Launcher != nil {
		rl.inner = opts.Launcher
	}
	tr := &transitions{}
	opts.Launcher = rl
	opts.OnTransition = tr.record
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 5 * time.Second
	}
	opts.Spec.Root = t.TempDir()
	opts.Spec.RPCTimeout = 2 * time.Second
	s := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, rl, tr
}

var testData = rpc.WorkerData{Entry: "/app/server.ts", Root: "/app", Port: 3000, HMRPath: "/__vite_hmr"}

func TestSupervisor_Start(t *testing.T) {
	s, _, tr := newTestSupervisor(t, "ok", Options{})

	require.NoError(t, s.Start(context.Background(), testData))
	assert.Equal(t, StateRunning, s.State())
	assert.NotZero(t, s.PID())
	assert.Equal(t, []string{"absent>starting", "starting>running"}, tr.get())

	assert.ErrorIs(t, s.Start(context.Background(), testData), ErrAlreadyStarted)
}

func TestSupervisor_StartFailure(t *testing.T) {
	s, rl, tr := newTestSupervisor(t, "fail", Options{})

	err := s.Start(context.Background(), testData)
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, "P140"))
	assert.True(t, perrors.HasCode(err, "P161"))
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "SyntaxError")
	assert.Equal(t, StateAbsent, s.State())
	assert.Equal(t, []string{"absent>starting", "starting>crashed", "crashed>absent"}, tr.get())

	require.Equal(t, 1, rl.launches())
	select {
	case <-rl.procs[0].Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("failed worker was not killed")
	}
}

func TestSupervisor_StartTimeout(t *testing.T) {
	s, _, _ := newTestSupervisor(t, "hang", Options{StartTimeout: 200 * time.Millisecond})

	err := s.Start(context.Background(), testData)
	require.Error(t, err)
	assert.ErrorIs(t, err, rpc.ErrTimeout)
	assert.True(t, perrors.HasCode(err, "P160"))
	assert.Equal(t, StateAbsent, s.State())
}

func TestSupervisor_ServerAPI(t *testing.T) {
	s, _, _ := newTestSupervisor(t, "fetch", Options{Server: fakeServer{}})
	require.NoError(t, s.Start(context.Background(), testData))
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisor_RestartExactlyOnce(t *testing.T) {
	var resolved int
	s, rl, tr := newTestSupervisor(t, "ok", Options{
		ResolveEntry: func(ctx context.Context) (string, error) {
			resolved++
			return "/app/server.ts?t=2", nil
		},
	})
	require.NoError(t, s.Start(context.Background(), testData))
	firstPID := s.PID()

	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, int64(1), s.Restarts())
	assert.Equal(t, 2, rl.launches())
	assert.Equal(t, 1, resolved)
	assert.NotEqual(t, firstPID, s.PID())
	assert.Equal(t, "/app/server.ts?t=2", s.WorkerData().Entry)

	// The old worker exited before the new one was launched.
	assert.Equal(t, []bool{true, true}, rl.prevExited)
	assert.Equal(t, []string{
		"absent>starting", "starting>running",
		"running>stopping", "stopping>absent",
		"absent>starting", "starting>running",
	}, tr.get())
}

func TestSupervisor_RestartCoalesced(t *testing.T) {
	s, rl, _ := newTestSupervisor(t, "ok", Options{})
	require.NoError(t, s.Start(context.Background(), testData))

	rl.mu.Lock()
	rl.gate = make(chan struct{})
	rl.entered = make(chan struct{}, 1)
	rl.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Restart(context.Background()) }()
	<-rl.entered

	// A second request waits for the restart in flight and shares its result.
	second := make(chan error, 1)
	go func() { second <- s.Restart(context.Background()) }()
	select {
	case err := <-second:
		t.Fatalf("coalesced restart returned before the worker was ready: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateStarting, s.State())

	close(rl.gate)
	require.NoError(t, <-second)
	assert.Equal(t, StateRunning, s.State())
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), s.Restarts())
	assert.Equal(t, 2, rl.launches())
}

func TestSupervisor_RestartCoalescedSharesError(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s, _, _ := newTestSupervisor(t, "ok", Options{
		ResolveEntry: func(ctx context.Context) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			once.Do(func() { close(entered) })
			<-gate
			return "", errors.New("entry vanished")
		},
	})
	require.NoError(t, s.Start(context.Background(), testData))

	first := make(chan error, 1)
	go func() { first <- s.Restart(context.Background()) }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- s.Restart(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	assert.EqualError(t, <-first, "entry vanished")
	assert.EqualError(t, <-second, "entry vanished")
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestSupervisor_RestartCoalescedHonorsContext(t *testing.T) {
	s, rl, _ := newTestSupervisor(t, "ok", Options{})
	require.NoError(t, s.Start(context.Background(), testData))

	rl.mu.Lock()
	rl.gate = make(chan struct{})
	rl.entered = make(chan struct{}, 1)
	rl.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Restart(context.Background()) }()
	<-rl.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Restart(ctx), context.DeadlineExceeded)

	close(rl.gate)
	require.NoError(t, <-done)
}

func TestSupervisor_RestartBeforeStart(t *testing.T) {
	s, _, _ := newTestSupervisor(t, "ok", Options{})
	assert.ErrorIs(t, s.Restart(context.Background()), ErrNotRunning)
}

func TestSupervisor_RestartResolveError(t *testing.T) {
	s, _, _ := newTestSupervisor(t, "ok", Options{
		ResolveEntry: func(ctx context.Context) (string, error) {
			return "", errors.New("entry vanished")
		},
	})
	require.NoError(t, s.Start(context.Background(), testData))
	assert.Error(t, s.Restart(context.Background()))
	assert.Equal(t, StateAbsent, s.State())
}

func TestSupervisor_Crash(t *testing.T) {
	crashed := make(chan error, 1)
	s, _, _ := newTestSupervisor(t, "crash", Options{
		OnCrash: func(err error) { crashed <- err },
	})
	require.NoError(t, s.Start(context.Background(), testData))

	select {
	case err := <-crashed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("crash not reported")
	}
	assert.Equal(t, StateAbsent, s.State())
	assert.Zero(t, s.PID())

	// A manual restart brings the worker back.
	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisor_ForwardsInvalidation(t *testing.T) {
	s, _, _ := newTestSupervisor(t, "ok", Options{})

	assert.NoError(t, s.InvalidateDepTree(context.Background(), []string{"/app/a.ts"}), "no-op without worker")
	deleted, err := s.DeleteByModuleID(context.Background(), "/app/server.ts")
	assert.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.Start(context.Background(), testData))

	assert.NoError(t, s.InvalidateDepTree(context.Background(), []string{"/app/a.ts"}))
	deleted, err = s.DeleteByModuleID(context.Background(), "/app/server.ts")
	assert.NoError(t, err)
	assert.True(t, deleted)
}

func TestCallError(t *testing.T) {
	assert.NoError(t, callError(rpc.Result{Method: rpc.MethodStart, Status: rpc.StatusOK}))

	tests := []struct {
		name string
		res  rpc.Result
		code string
	}{
		{"timed out", rpc.Result{Method: rpc.MethodInvalidateDepTree, Status: rpc.StatusTimedOut}, "P160"},
		{"remote error", rpc.Result{Method: rpc.MethodDeleteByModuleID, Status: rpc.StatusFailed, Err: &rpc.RemoteError{Message: "boom"}}, "P161"},
		{"closed", rpc.Result{Method: rpc.MethodInvalidateDepTree, Status: rpc.StatusFailed, Err: rpc.ErrClosed}, "P162"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callError(tt.res)
			require.Error(t, err)
			assert.True(t, perrors.HasCode(err, tt.code), err.Error())
			assert.Contains(t, err.Error(), tt.res.Method)
		})
	}
	assert.ErrorIs(t, callError(rpc.Result{Method: rpc.MethodStart, Status: rpc.StatusTimedOut}), rpc.ErrTimeout)
}

func TestSupervisor_Stop(t *testing.T) {
	s, rl, tr := newTestSupervisor(t, "ok", Options{StopGrace: time.Second})
	require.NoError(t, s.Start(context.Background(), testData))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateAbsent, s.State())
	select {
	case <-rl.procs[0].Exited():
	default:
		t.Fatal("worker still running after Stop")
	}
	assert.Contains(t, tr.get(), "running>stopping")
	require.NoError(t, s.Stop(context.Background()))
}

func TestState(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, canTransition(StateAbsent, StateStarting))
	assert.False(t, canTransition(StateAbsent, StateRunning))
	assert.False(t, canTransition(StateCrashed, StateRunning))
}

func TestResolveRuntime(t *testing.T) {
	t.Setenv(EnvRuntime, "")
	assert.Equal(t, "node", ResolveRuntime(""))
	t.Setenv(EnvRuntime, "bun")
	assert.Equal(t, "bun", ResolveRuntime(""))
	assert.Equal(t, "deno", ResolveRuntime("deno"))
}

func TestRuntimeCommand(t *testing.T) {
	_, err := RuntimeCommand(LaunchSpec{Runtime: "python", Root: t.TempDir()})
	assert.True(t, perrors.HasCode(err, "P112"))

	t.Setenv("PATH", t.TempDir())
	_, err = RuntimeCommand(LaunchSpec{Runtime: "node", Root: t.TempDir()})
	assert.True(t, perrors.HasCode(err, "P141"))
}

func TestWriteBootstrap(t *testing.T) {
	path, err := WriteBootstrap(t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, string(bootstrap), "invalidateDepTree")
	assert.Contains(t, string(bootstrap), "deleteByModuleId")
}

type panicLauncher struct{}

func (panicLauncher) Launch(ctx context.Context, spec LaunchSpec) (*Process, error) {
	panic("launcher exploded")
}

func TestSupervisor_StartPanicResetsState(t *testing.T) {
	s, _, tr := newTestSupervisor(t, "ok", Options{Launcher: panicLauncher{}})

	assert.PanicsWithValue(t, "launcher exploded", func() {
		_ = s.Start(context.Background(), testData)
	})
	assert.Equal(t, StateAbsent, s.State())
	assert.Equal(t, []string{"absent>starting", "starting>crashed", "crashed>absent"}, tr.get())
}
