package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/rpc"
	"github.com/photon-dev/photon/internal/supervisor"
)

// memLauncher runs workers in process over pipes. Each worker serves
// HTTP on the port it is started with.
type memLauncher struct {
	mu      sync.Mutex
	workers []*memWorker
	events  []string

	// gate, when set, holds every launch after the first until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (l *memLauncher) hold() {
	l.mu.Lock()
	l.gate = make(chan struct{})
	l.entered = make(chan struct{}, 1)
	l.mu.Unlock()
}

func (l *memLauncher) record(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *memLauncher) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *memLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.workers)
}

func (l *memLauncher) last() *memWorker {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.workers) == 0 {
		return nil
	}
	return l.workers[len(l.workers)-1]
}

func (l *memLauncher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (*supervisor.Process, error) {
	l.mu.Lock()
	gate, entered, later := l.gate, l.entered, len(l.workers) > 0
	l.mu.Unlock()
	if gate != nil && later {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	serverR, workerW := io.Pipe()
	workerR, serverW := io.Pipe()
	serverPeer := rpc.NewPeer(serverR, serverW, rpc.Options{Timeout: spec.RPCTimeout})
	workerPeer := rpc.NewPeer(workerR, workerW, rpc.Options{Timeout: 2 * time.Second})

	l.mu.Lock()
	w := &memWorker{launcher: l, n: len(l.workers) + 1, client: rpc.NewServerClient(workerPeer)}
	l.workers = append(l.workers, w)
	l.mu.Unlock()
	l.record("launch")

	rpc.RegisterWorkerHandlers(workerPeer, w)
	go func() { _ = workerPeer.Serve(context.Background()) }()

	var proc *supervisor.Process
	exit := func(code int, err error) {
		w.close()
		_ = workerPeer.Close()
		proc.MarkExited(code, err)
	}
	proc = supervisor.NewProcess(1000+w.n, serverPeer, func() error {
		exit(-1, nil)
		return nil
	}, nil)
	w.crash = func() { exit(1, errors.New("exit status 1")) }
	return proc, nil
}

type memWorker struct {
	launcher *memLauncher
	n        int
	client   *rpc.ServerClient
	crash    func()

	mu   sync.Mutex
	srv  *http.Server
	data rpc.WorkerData
}

func (w *memWorker) Start(ctx context.Context, data rpc.WorkerData) (rpc.StartResult, error) {
	src, err := os.ReadFile(data.Entry)
	if err != nil {
		return rpc.StartResult{}, err
	}
	if strings.Contains(string(src), "throw") {
		return rpc.StartResult{}, errors.New("SyntaxError: entry threw")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(data.Port))
	if err != nil {
		return rpc.StartResult{}, err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(rw, "<html><head><title>app</title></head><body>worker %d</body></html>", w.n)
	})
	mux.HandleFunc("/api/data", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]int{"worker": w.n})
	})
	mux.HandleFunc("/fetch", func(rw http.ResponseWriter, r *http.Request) {
		res, callRes := w.client.FetchModule(r.Context(), data.Entry, "")
		if !callRes.OK() {
			http.Error(rw, callRes.AsError().Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "text/javascript")
		_, _ = io.WriteString(rw, res.Code)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()

	w.mu.Lock()
	w.srv = srv
	w.data = data
	w.mu.Unlock()
	return rpc.StartResult{PID: 1000 + w.n}, nil
}

func (w *memWorker) InvalidateDepTree(ctx context.Context, ids []string) error {
	w.launcher.record("invalidate:" + strings.Join(ids, ","))
	return nil
}

func (w *memWorker) DeleteByModuleID(ctx context.Context, id string) (bool, error) {
	w.launcher.record("delete:" + id)
	return true, nil
}

func (w *memWorker) close() {
	w.mu.Lock()
	srv := w.srv
	w.srv = nil
	w.mu.Unlock()
	if srv != nil {
		_ = srv.Close()
	}
}

// writeProject creates a project with photon.json and files and loads
// its config.
func writeProject(t *testing.T, files map[string]string) *config.Config {
	t.Helper()
	root := t.TempDir()
	if _, ok := files[config.ConfigFileName]; !ok {
		files[config.ConfigFileName] = `{"server": "./server.js"}`
	}
	for name, content := range files {
		writeFile(t, filepath.Join(root, name), content)
	}
	cfg, err := config.LoadFile(filepath.Join(root, config.ConfigFileName))
	require.NoError(t, err)
	cfg.Dev.Host = "127.0.0.1"
	cfg.Dev.Port = 0
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func defaultFiles() map[string]string {
	return map[string]string{
		"server.js": "import { helper } from \"./helper.js\";\nexport default { fetch() { return helper; } };\n",
		"helper.js": "export const helper = 1;\n",
		"page.js":   "export const title = \"page\";\n",
	}
}

// syncBuffer is an io.Writer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
