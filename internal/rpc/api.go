package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Method names. These are a wire contract.
const (
	MethodStart             = "start"
	MethodInvalidateDepTree = "invalidateDepTree"
	MethodDeleteByModuleID  = "deleteByModuleId"

	MethodFetchModule              = "fetchModule"
	MethodModuleGraphResolveURL    = "moduleGraphResolveUrl"
	MethodModuleGraphGetModuleByID = "moduleGraphGetModuleById"
	MethodTransformIndexHTML       = "transformIndexHtml"
)

// DefaultStartTimeout bounds the start call, which imports the whole entry.
const DefaultStartTimeout = 30 * time.Second

// WorkerData is what the worker needs to load the entry.
type WorkerData struct {
	Entry      string `json:"entry"`
	Root       string `json:"root"`
	ConfigFile string `json:"configFile,omitempty"`
	Port       int    `json:"port"`
	HMRPath    string `json:"hmrPath"`
	Runtime    string `json:"runtime,omitempty"`
}

// FetchModuleParams are the params of fetchModule.
type FetchModuleParams struct {
	ID       string `json:"id"`
	Importer string `json:"importer,omitempty"`
}

// FetchResult is either transformed code or an externalized specifier.
type FetchResult struct {
	Code        string `json:"code,omitempty"`
	File        string `json:"file,omitempty"`
	ID          string `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	Invalidate  bool   `json:"invalidate,omitempty"`
	Externalize string `json:"externalize,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ResolvedURL is the answer to moduleGraphResolveUrl.
type ResolvedURL struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// MinimalModuleNode is the module graph node shape shared with the worker.
type MinimalModuleNode struct {
	ID        string   `json:"id"`
	File      string   `json:"file,omitempty"`
	URL       string   `json:"url"`
	Type      string   `json:"type"`
	Importers []string `json:"importers,omitempty"`
}

// TransformIndexHTMLParams are the params of transformIndexHtml.
type TransformIndexHTMLParams struct {
	URL         string `json:"url"`
	HTML        string `json:"html"`
	OriginalURL string `json:"originalUrl,omitempty"`
}

// URLParams carries a single url.
type URLParams struct {
	URL string `json:"url"`
}

// IDParams carries a single module id.
type IDParams struct {
	ID string `json:"id"`
}

// IDsParams carries module ids.
type IDsParams struct {
	IDs []string `json:"ids"`
}

// StartResult is the worker's confirmation that the entry was imported.
type StartResult struct {
	PID int `json:"pid,omitempty"`
}

// WorkerAPI calls the worker.
type WorkerAPI struct {
	peer         *Peer
	startTimeout time.Duration
}

// NewWorkerAPI wraps p. A zero startTimeout uses DefaultStartTimeout.
func NewWorkerAPI(p *Peer, startTimeout time.Duration) *WorkerAPI {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	return &WorkerAPI{peer: p, startTimeout: startTimeout}
}

// Start asks the worker to import the entry.
func (a *WorkerAPI) Start(ctx context.Context, data WorkerData) (StartResult, Result) {
	var out StartResult
	res := a.peer.CallTimeout(ctx, a.startTimeout, MethodStart, data, &out)
	return out, res
}

// InvalidateDepTree discards the worker's cached copies of ids.
func (a *WorkerAPI) InvalidateDepTree(ctx context.Context, ids []string) Result {
	return a.peer.Call(ctx, MethodInvalidateDepTree, IDsParams{IDs: ids}, nil)
}

// DeleteByModuleID drops one module from the worker's cache.
func (a *WorkerAPI) DeleteByModuleID(ctx context.Context, id string) (bool, Result) {
	var deleted bool
	res := a.peer.Call(ctx, MethodDeleteByModuleID, IDParams{ID: id}, &deleted)
	return deleted, res
}

// ServerAPI is implemented by the dev server to answer the worker.
type ServerAPI interface {
	FetchModule(ctx context.Context, id, importer string) (*FetchResult, error)
	ModuleGraphResolveURL(ctx context.Context, url string) (*ResolvedURL, error)
	ModuleGraphGetModuleByID(ctx context.Context, id string) (*MinimalModuleNode, error)
	TransformIndexHTML(ctx context.Context, url, html, originalURL string) (string, error)
}

// RegisterServerAPI installs api's methods on p.
func RegisterServerAPI(p *Peer, api ServerAPI) {
	p.Handle(MethodFetchModule, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in FetchModuleParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return api.FetchModule(ctx, in.ID, in.Importer)
	})
	p.Handle(MethodModuleGraphResolveURL, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in URLParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return api.ModuleGraphResolveURL(ctx, in.URL)
	})
	p.Handle(MethodModuleGraphGetModuleByID, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in IDParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		node, err := api.ModuleGraphGetModuleByID(ctx, in.ID)
		if err != nil || node == nil {
			return nil, err
		}
		return node, nil
	})
	p.Handle(MethodTransformIndexHTML, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in TransformIndexHTMLParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return api.TransformIndexHTML(ctx, in.URL, in.HTML, in.OriginalURL)
	})
}

// WorkerHandlers is the worker side of the contract. The production worker
// is JavaScript; Go implementations exist for tests and tooling.
type WorkerHandlers interface {
	Start(ctx context.Context, data WorkerData) (StartResult, error)
	InvalidateDepTree(ctx context.Context, ids []string) error
	DeleteByModuleID(ctx context.Context, id string) (bool, error)
}

// RegisterWorkerHandlers installs h's methods on p.
func RegisterWorkerHandlers(p *Peer, h WorkerHandlers) {
	p.Handle(MethodStart, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in WorkerData
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return h.Start(ctx, in)
	})
	p.Handle(MethodInvalidateDepTree, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in IDsParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return true, h.InvalidateDepTree(ctx, in.IDs)
	})
	p.Handle(MethodDeleteByModuleID, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in IDParams
		if err := decode(params, &in); err != nil {
			return nil, err
		}
		return h.DeleteByModuleID(ctx, in.ID)
	})
}

// ServerClient is the worker's view of the dev server.
type ServerClient struct {
	peer *Peer
}

// NewServerClient wraps p.
func NewServerClient(p *Peer) *ServerClient {
	return &ServerClient{peer: p}
}

// FetchModule asks the server for a transformed module.
func (c *ServerClient) FetchModule(ctx context.Context, id, importer string) (*FetchResult, Result) {
	var out FetchResult
	res := c.peer.Call(ctx, MethodFetchModule, FetchModuleParams{ID: id, Importer: importer}, &out)
	return &out, res
}

// ResolveURL resolves a url against the module graph.
func (c *ServerClient) ResolveURL(ctx context.Context, url string) (*ResolvedURL, Result) {
	var out ResolvedURL
	res := c.peer.Call(ctx, MethodModuleGraphResolveURL, URLParams{URL: url}, &out)
	return &out, res
}

// GetModuleByID looks up a module graph node. A nil node means unknown id.
func (c *ServerClient) GetModuleByID(ctx context.Context, id string) (*MinimalModuleNode, Result) {
	var out *MinimalModuleNode
	res := c.peer.Call(ctx, MethodModuleGraphGetModuleByID, IDParams{ID: id}, &out)
	return out, res
}

// TransformIndexHTML runs html through the dev server's HTML transform.
func (c *ServerClient) TransformIndexHTML(ctx context.Context, url, html, originalURL string) (string, Result) {
	var out string
	res := c.peer.Call(ctx, MethodTransformIndexHTML, TransformIndexHTMLParams{URL: url, HTML: html, OriginalURL: originalURL}, &out)
	return out, res
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
