package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server is the capability every supported HTTP stack provides.
type Server interface {
	// Name returns the variant name ("std", "chi", "gin").
	Name() string

	// Mount installs h as the catch-all handler. Mounting again replaces it.
	Mount(h http.Handler)

	// Listen binds addr, calls onReady with the bound address, then serves
	// until Shutdown. It returns nil after a clean shutdown.
	Listen(addr string, onReady func(net.Addr)) error

	// Shutdown gracefully stops the server.
	Shutdown(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// Logger receives request and server error logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// CORS enables permissive cross-origin headers (gin only).
	CORS bool

	// ReadHeaderTimeout bounds reading request headers. Defaults to 10s.
	ReadHeaderTimeout time.Duration
}

// ErrUnknownServer is returned by New for an unsupported variant name.
var ErrUnknownServer = errors.New("servers: unknown server")

type factory func(Options) Server

var (
	registryMu sync.RWMutex
	registry   = map[string]factory{
		"std": newStd,
		"chi": newChi,
		"gin": newGin,
	}
)

// New returns the named server variant.
func New(name string, opts Options) (Server, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownServer, name, Names())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	return f(opts), nil
}

// Names returns the registered variant names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// base holds the listener lifecycle shared by every variant.
type base struct {
	name string
	opts Options

	mu      sync.RWMutex
	handler http.Handler
	srv     *http.Server
}

func newBase(name string, opts Options) base {
	return base{name: name, opts: opts, handler: http.NotFoundHandler()}
}

func (b *base) Name() string { return b.name }

func (b *base) setHandler(h http.Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// serveMounted dispatches to whatever handler is currently mounted.
func (b *base) serveMounted(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func (b *base) listen(addr string, root http.Handler, onReady func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("servers: listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           root,
		ReadHeaderTimeout: b.opts.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(b.opts.Logger.Named(b.name)),
	}
	b.mu.Lock()
	b.srv = srv
	b.mu.Unlock()

	if onReady != nil {
		onReady(ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *base) Shutdown(ctx context.Context) error {
	b.mu.RLock()
	srv := b.srv
	b.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
