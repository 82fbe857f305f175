package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/config"
	perrors "github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/rpc"
	"github.com/photon-dev/photon/internal/supervisor"
	"github.com/photon-dev/photon/internal/telemetry"
	"github.com/photon-dev/photon/internal/watcher"
	"github.com/photon-dev/photon/pkg/servers"
	"github.com/photon-dev/photon/pkg/universal"
)

// listenerPatch names the one-time mount of the dev handler.
const listenerPatch = "photon:dev-listener"

// ShutdownTimeout bounds the graceful part of Run's teardown.
const ShutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// Launcher starts workers. Defaults to the configured dev runtime.
	Launcher supervisor.Launcher

	// WorkerPort is the port handed to the worker. Zero picks a free one.
	WorkerPort int

	// Restarter is set in prefer-restart mode. Restarts then end the whole
	// process so the parent launches a fresh one.
	Restarter *supervisor.Restarter

	// Stdin carries keyboard shortcuts. Nil disables them.
	Stdin io.Reader

	// Out receives user-facing lines. Defaults to os.Stdout.
	Out io.Writer

	// WorkerStdout and WorkerStderr receive the worker's output.
	WorkerStdout io.Writer
	WorkerStderr io.Writer

	// Debounce is passed to the file watcher.
	Debounce time.Duration

	// OnReady is called with the bound listener address.
	OnReady func(addr net.Addr)
}

// Server is one development session.
type Server struct {
	cfg     *config.Config
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics
	out     io.Writer

	dc          *Context
	api         *moduleAPI
	sup         *supervisor.Supervisor
	http        servers.Server
	rules       []proxyRule
	workerPort  int
	workerProxy *httputil.ReverseProxy

	changeCh chan []watcher.Change
	quit     chan struct{}
	quitOnce sync.Once

	mu    sync.RWMutex
	entry string
	addr  net.Addr
}

// New prepares a session. Nothing runs until Run.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("devserver: missing config")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	srv, err := servers.New(cfg.Dev.Server, servers.Options{Logger: logger, CORS: cfg.Dev.CORS})
	if err != nil {
		return nil, perrors.New("P180").WithDetail(cfg.Dev.Server).Wrap(err)
	}
	rules, err := proxyRules(cfg.Dev.Proxy, logger)
	if err != nil {
		return nil, perrors.New("P112").WithDetail(err.Error())
	}

	port := opts.WorkerPort
	if port == 0 {
		if port, err = freePort(); err != nil {
			return nil, fmt.Errorf("devserver: pick worker port: %w", err)
		}
	}

	s := &Server{
		cfg:        cfg,
		opts:       opts,
		logger:     logger.Named("dev"),
		metrics:    opts.Metrics,
		out:        opts.Out,
		http:       srv,
		rules:      rules,
		workerPort: port,
		changeCh:   make(chan []watcher.Change, 16),
		quit:       make(chan struct{}),
	}
	s.dc = NewContext(cfg, logger, opts.Metrics)
	s.api = &moduleAPI{dc: s.dc}
	s.workerProxy = s.newWorkerProxy(port)

	launcher := opts.Launcher
	if launcher == nil {
		launcher = supervisor.NewRuntimeLauncher(logger, opts.Metrics)
	}
	s.sup = supervisor.New(supervisor.Options{
		Launcher: launcher,
		Spec: supervisor.LaunchSpec{
			Runtime:    cfg.Dev.Runtime,
			Root:       cfg.Dir(),
			Stdout:     opts.WorkerStdout,
			Stderr:     opts.WorkerStderr,
			RPCTimeout: cfg.Dev.RPCTimeout.Duration,
		},
		ResolveEntry: s.resolveEntry,
		Server:       s.api,
		OnCrash:      s.onCrash,
		Logger:       logger,
		Metrics:      opts.Metrics,
	})
	return s, nil
}

// Context returns the session context.
func (s *Server) Context() *Context { return s.dc }

// Supervisor returns the worker supervisor.
func (s *Server) Supervisor() *supervisor.Supervisor { return s.sup }

// WorkerPort returns the port the worker listens on.
func (s *Server) WorkerPort() int { return s.workerPort }

// Addr returns the bound listener address, or nil before it is ready.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the full request chain of the dev listener.
func (s *Server) Handler() http.Handler {
	app := universal.HandlerWithFallback(universal.ConnectToWeb(s.serveWorker), http.NotFoundHandler())
	metrics := s.metrics.Handler()

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil && r.URL.Path == telemetry.MetricsPath {
			metrics.ServeHTTP(w, r)
			return
		}
		if rule := matchRule(s.rules, r.URL.Path); rule != nil {
			rule.proxy.ServeHTTP(w, r)
			return
		}
		// Upgrades need the raw connection and skip the adapter.
		if isUpgrade(r) {
			s.serveWorker(w, r, func(error) {})
			return
		}
		app.ServeHTTP(w, r)
	})
	return s.dc.Bridge.Middleware(root)
}

// Run starts the worker, the watcher and the listener, and blocks until
// ctx is done, Quit is called or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.dc.ConfigureServer(listenerPatch, func() {
		s.http.Mount(s.Handler())
	})
	s.dc.Tooling.Start()

	func() {
		defer s.guard("worker start")
		if err := s.startWorker(ctx); err != nil {
			s.reportError(err)
		}
	}()
	if err := s.rescan(ctx); err != nil {
		s.logger.Debug("initial scan", zap.Error(err))
	}

	w, err := watcher.New(watcher.Config{
		Paths:    append([]string{s.cfg.Dir()}, s.cfg.WatchPaths()...),
		Ignore:   append(append([]string(nil), watcher.DefaultIgnore...), s.cfg.Dev.Ignore...),
		Debounce: s.opts.Debounce,
	}, s.logger)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("devserver: create watcher: %w", err)
	}
	w.OnChange(func(changes []watcher.Change) {
		select {
		case s.changeCh <- changes:
		case <-ctx.Done():
		}
	})

	errCh := make(chan error, 2)
	go func() {
		if err := w.Start(ctx); err != nil {
			errCh <- fmt.Errorf("devserver: watcher: %w", err)
		}
	}()
	go s.processChanges(ctx)
	if s.opts.Stdin != nil {
		go s.readShortcuts(ctx, s.opts.Stdin)
	}
	go func() {
		if err := s.http.Listen(s.cfg.DevAddress(), s.onReady); err != nil {
			errCh <- fmt.Errorf("devserver: listen %s: %w", s.cfg.DevAddress(), err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.quit:
	case runErr = <-errCh:
	}

	w.Stop()
	cancel()
	if err := s.shutdown(); err != nil {
		s.logger.Debug("shutdown", zap.Error(err))
	}
	return runErr
}

// Quit ends Run.
func (s *Server) Quit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return errors.Join(
		s.sup.Stop(ctx),
		s.http.Shutdown(ctx),
		s.dc.Close(ctx),
	)
}

func (s *Server) onReady(addr net.Addr) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", addr.String()), zap.String("server", s.http.Name()))
	if s.opts.OnReady != nil {
		s.opts.OnReady(addr)
	}
}

// startWorker launches the first worker.
func (s *Server) startWorker(ctx context.Context) error {
	entry, err := s.resolveEntry(ctx)
	if err != nil {
		return err
	}
	return s.sup.Start(ctx, s.workerData(entry))
}

// resolveEntry rereads the config so a restart picks up a moved entry.
func (s *Server) resolveEntry(ctx context.Context) (string, error) {
	cfg := s.cfg
	if path := cfg.Path(); path != "" {
		if _, err := os.Stat(path); err == nil {
			fresh, err := config.LoadFile(path)
			if err != nil {
				return "", err
			}
			cfg = fresh
		}
	}

	entry := cfg.EntryPath(config.IndexEntry)
	if entry == "" {
		return "", perrors.New("P100")
	}
	if _, err := os.Stat(entry); err != nil {
		return "", perrors.New("P101").
			WithDetail("Entry " + entry + " does not exist").
			Wrap(err)
	}

	s.mu.Lock()
	s.entry = entry
	s.mu.Unlock()
	return entry, nil
}

func (s *Server) workerData(entry string) rpc.WorkerData {
	return rpc.WorkerData{
		Entry:      entry,
		Root:       s.cfg.Dir(),
		ConfigFile: s.cfg.Path(),
		Port:       s.workerPort,
		HMRPath:    s.cfg.Dev.HMRPath,
		Runtime:    s.cfg.Dev.Runtime,
	}
}

// entries returns the module ids of every declared entry that exists,
// the current index entry first.
func (s *Server) entries() []string {
	s.mu.RLock()
	current := s.entry
	s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		if _, err := os.Stat(p); err != nil {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	add(current)
	for _, name := range s.cfg.EntryNames() {
		add(s.cfg.EntryPath(name))
	}
	return out
}

// rescan refreshes the module graph from the entries.
func (s *Server) rescan(ctx context.Context) error {
	entries := s.entries()
	if len(entries) == 0 {
		return nil
	}
	_, err := s.dc.Scanner.ScanInto(ctx, s.dc.Graph, entries...)
	return err
}

// Restart restarts the worker and reloads browsers once it is ready.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.restartWorker(ctx); err != nil {
		s.reportError(err)
		return err
	}
	if err := s.rescan(ctx); err != nil {
		s.logger.Warn("rescan after restart", zap.Error(err))
	}
	s.dc.Hub.FullReload("*")
	return nil
}

// restartWorker restarts through the Restarter in prefer-restart mode and
// through the supervisor otherwise. A worker that never started is started.
func (s *Server) restartWorker(ctx context.Context) error {
	if s.opts.Restarter != nil && supervisor.Active() {
		s.logger.Info("restarting process")
		stopCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
		_ = s.sup.Stop(stopCtx)
		cancel()
		s.opts.Restarter.RequestRestart()
		return nil
	}

	err := s.sup.Restart(ctx)
	if errors.Is(err, supervisor.ErrNotRunning) {
		err = s.startWorker(ctx)
	}
	return err
}

func (s *Server) onCrash(err error) {
	defer s.guard("crash handler")
	fmt.Fprintf(s.out, "worker crashed: %v\n  %s\n", err, supervisor.RestartHint)
	s.dc.Hub.Error(err)
}

// reportError shows err in the terminal and in connected browsers.
func (s *Server) reportError(err error) {
	perrors.Fprint(s.out, err)
	s.dc.Hub.Error(err)
}

// guard recovers a panic in an orchestration goroutine. The listener
// stays up and the next change or r+Enter tries again.
func (s *Server) guard(where string) {
	if r := recover(); r != nil {
		err := perrors.New("P142").WithDetail(fmt.Sprint(r))
		s.logger.Error("crashed",
			zap.String("in", where),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		fmt.Fprintf(s.out, "photon crashed: %v\n  %s\n", r, supervisor.RestartHint)
		s.dc.Hub.Error(err)
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
