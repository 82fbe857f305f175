package hmr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ErrListenerClosed is returned by Accept and Emit after Close.
var ErrListenerClosed = errors.New("hmr: listener closed")

// ConnListener is a net.Listener fed by Emit instead of a socket.
type ConnListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnListener creates an empty listener.
func NewConnListener() *ConnListener {
	return &ConnListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// Emit hands conn to the next Accept. It blocks until accepted or closed.
func (l *ConnListener) Emit(conn net.Conn) error {
	select {
	case l.conns <- conn:
		return nil
	case <-l.closed:
		return ErrListenerClosed
	}
}

// Accept implements net.Listener.
func (l *ConnListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

// Close implements net.Listener.
func (l *ConnListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Addr implements net.Listener.
func (l *ConnListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "photon-tooling" }

// ToolingServer is the internal HTTP server owning the HMR websocket.
// It never binds a port; connections arrive through Emit.
type ToolingServer struct {
	hub      *Hub
	path     string
	logger   *zap.Logger
	listener *ConnListener
	server   *http.Server

	startOnce sync.Once
	done      chan struct{}
}

// NewToolingServer creates a tooling server serving hub on path.
func NewToolingServer(hub *Hub, path string, logger *zap.Logger) *ToolingServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tooling")

	r := chi.NewRouter()
	r.Get(path, hub.ServeHTTP)
	r.Get(path+"/client.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		_, _ = w.Write([]byte(ClientScript(path)))
	})

	return &ToolingServer{
		hub:      hub,
		path:     path,
		logger:   logger,
		listener: NewConnListener(),
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logger),
		},
		done: make(chan struct{}),
	}
}

// Path returns the HMR path.
func (t *ToolingServer) Path() string { return t.path }

// Hub returns the websocket hub.
func (t *ToolingServer) Hub() *Hub { return t.hub }

// Start begins serving in the background. Subsequent calls are no-ops.
func (t *ToolingServer) Start() {
	t.startOnce.Do(func() {
		go func() {
			defer close(t.done)
			err := t.server.Serve(t.listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, ErrListenerClosed) {
				t.logger.Error("tooling server stopped", zap.Error(err))
			}
		}()
	})
}

// Emit hands a raw client connection to the tooling server.
func (t *ToolingServer) Emit(conn net.Conn) error {
	t.Start()
	return t.listener.Emit(conn)
}

// Close stops the server and disconnects websocket clients.
func (t *ToolingServer) Close(ctx context.Context) error {
	t.hub.Close()
	err := t.server.Shutdown(ctx)
	_ = t.listener.Close()
	return err
}
