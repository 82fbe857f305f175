package hmr

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/telemetry"
)

// Subprotocol is the websocket subprotocol spoken by the HMR client.
const Subprotocol = "vite-hmr"

// Message types.
const (
	TypeConnected  = "connected"
	TypeFullReload = "full-reload"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Payload is one message sent to browsers.
type Payload struct {
	Type string        `json:"type"`
	Path string        `json:"path,omitempty"`
	Err  *ErrorPayload `json:"err,omitempty"`
}

// ErrorPayload describes a server-side error for the browser overlay.
type ErrorPayload struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	ID      string `json:"id,omitempty"`
	Plugin  string `json:"plugin,omitempty"`
}

// HubOptions configures a Hub.
type HubOptions struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// PingInterval is the keepalive period. Defaults to 30s.
	PingInterval time.Duration
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Hub manages live-reload websocket clients.
type Hub struct {
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	pingInterval time.Duration

	clients  map[*client]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHub creates a hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Hub{
		logger:       opts.Logger.Named("hmr"),
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		clients:      make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true // dev only
			},
		},
		closed: make(chan struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.metrics.HMRClientConnected()

	if data, err := json.Marshal(Payload{Type: TypeConnected}); err == nil {
		_ = c.write(data)
	}

	done := make(chan struct{})
	go h.keepalive(c, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg Payload
		if json.Unmarshal(data, &msg) == nil && msg.Type == TypePing {
			if pong, err := json.Marshal(Payload{Type: TypePong}); err == nil {
				_ = c.write(pong)
			}
		}
	}
	close(done)
	h.remove(c)
}

func (h *Hub) keepalive(c *client, done chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-h.closed:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.HMRClientDisconnected()
		_ = c.conn.Close()
	}
}

// FullReload tells every browser to reload. path is the changed file or "*".
func (h *Hub) FullReload(path string) {
	if path == "" {
		path = "*"
	}
	h.Send(Payload{Type: TypeFullReload, Path: path})
}

// Error shows err in the browser overlay.
func (h *Hub) Error(err error) {
	if err == nil {
		return
	}
	h.Send(Payload{Type: TypeError, Err: &ErrorPayload{Message: err.Error(), Plugin: "photon"}})
}

// Send broadcasts p to every client.
func (h *Hub) Send(p Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	h.metrics.RecordHMRMessage(p.Type)

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.remove(c)
		}
	}
	h.logger.Debug("broadcast", zap.String("type", p.Type), zap.Int("clients", len(clients)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closed) })

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		h.metrics.HMRClientDisconnected()
		_ = c.conn.Close()
	}
}
