package devserver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/hmr"
	"github.com/photon-dev/photon/internal/modgraph"
	"github.com/photon-dev/photon/internal/telemetry"
)

// Context is the state shared by everything in one dev session. It is
// created once and passed explicitly to each part that needs it.
type Context struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	Graph       *modgraph.Graph
	Scanner     *modgraph.Scanner
	Transformer *modgraph.Transformer

	Hub     *hmr.Hub
	Tooling *hmr.ToolingServer
	Bridge  *hmr.Bridge

	mu        sync.Mutex
	patched   map[string]bool
	closeOnce sync.Once
	closeErr  error
}

// NewContext builds the module graph and the HMR plumbing for cfg.
// metrics may be nil.
func NewContext(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	graph := modgraph.NewGraph(cfg.Dir())
	hub := hmr.NewHub(hmr.HubOptions{Logger: logger, Metrics: metrics})
	tooling := hmr.NewToolingServer(hub, cfg.Dev.HMRPath, logger)

	return &Context{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Graph:       graph,
		Scanner:     modgraph.NewScanner(cfg.Dir(), cfg.Dev.Runtime, logger),
		Transformer: modgraph.NewTransformer(graph),
		Hub:         hub,
		Tooling:     tooling,
		Bridge:      hmr.NewBridge(tooling, logger),
		patched:     make(map[string]bool),
	}
}

// ConfigureServer runs fn the first time name is configured and reports
// whether it ran. Later calls with the same name are no-ops.
func (c *Context) ConfigureServer(name string, fn func()) bool {
	c.mu.Lock()
	if c.patched[name] {
		c.mu.Unlock()
		return false
	}
	c.patched[name] = true
	c.mu.Unlock()

	fn()
	return true
}

// Configured reports whether name was configured.
func (c *Context) Configured(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patched[name]
}

// Close disconnects HMR clients and stops the tooling server.
func (c *Context) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Tooling.Close(ctx)
	})
	return c.closeErr
}
