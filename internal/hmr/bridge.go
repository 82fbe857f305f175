package hmr

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bridge forwards HMR websocket upgrades from the application listener
// to a ToolingServer.
type Bridge struct {
	tooling *ToolingServer
	logger  *zap.Logger

	attachOnce sync.Once
	attached   atomic.Bool
	attaches   atomic.Int64
}

// NewBridge creates a bridge to tooling.
func NewBridge(tooling *ToolingServer, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{tooling: tooling, logger: logger.Named("bridge")}
}

// Attached reports whether the bridge has been attached to a listener.
func (b *Bridge) Attached() bool { return b.attached.Load() }

// Attaches returns how many times attachment ran. It never exceeds one.
func (b *Bridge) Attaches() int64 { return b.attaches.Load() }

// SetupHMRProxy handles r when it targets the HMR path. It reports whether
// the request was taken over; false means the caller must serve it.
// Without raw socket access (no http.Hijacker) it always returns false.
func (b *Bridge) SetupHMRProxy(w http.ResponseWriter, r *http.Request) bool {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return false
	}

	b.attachOnce.Do(func() {
		b.attaches.Add(1)
		b.attached.Store(true)
		b.tooling.Start()
		b.logger.Debug("attached", zap.String("path", b.tooling.Path()))
	})

	if r.URL == nil || r.URL.Path != b.tooling.Path() || !isUpgrade(r) {
		return false
	}

	// The request line and headers were already consumed; serialize them
	// again so the tooling server sees the original handshake.
	head, err := httputil.DumpRequest(r, false)
	if err != nil {
		b.logger.Warn("dump upgrade request", zap.Error(err))
		return false
	}

	conn, rw, err := hj.Hijack()
	if err != nil {
		b.logger.Warn("hijack", zap.Error(err))
		return false
	}

	var buffered []byte
	if rw != nil && rw.Reader.Buffered() > 0 {
		buffered, _ = rw.Reader.Peek(rw.Reader.Buffered())
		buffered = bytes.Clone(buffered)
	}

	replay := &replayConn{Conn: conn, r: io.MultiReader(bytes.NewReader(head), bytes.NewReader(buffered), conn)}
	if err := b.tooling.Emit(replay); err != nil {
		_ = conn.Close()
		b.logger.Debug("emit", zap.Error(err))
	}
	return true
}

// Middleware serves HMR upgrades through the bridge and answers plain
// requests on the HMR path with a short placeholder.
func (b *Bridge) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.SetupHMRProxy(w, r) {
			return
		}
		if r.URL.Path == b.tooling.Path() && !isUpgrade(r) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte("photon HMR endpoint: websocket upgrade required\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isUpgrade(r *http.Request) bool {
	return headerContains(r.Header, "Connection", "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func headerContains(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// replayConn reads the replayed handshake before the live socket.
type replayConn struct {
	net.Conn
	r io.Reader
}

func (c *replayConn) Read(p []byte) (int, error) { return c.r.Read(p) }
