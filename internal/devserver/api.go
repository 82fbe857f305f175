package devserver

import (
	"context"

	"github.com/photon-dev/photon/internal/hmr"
	"github.com/photon-dev/photon/internal/rpc"
)

// moduleAPI answers the worker's calls from the session's module graph.
type moduleAPI struct {
	dc *Context
}

var _ rpc.ServerAPI = (*moduleAPI)(nil)

func (a *moduleAPI) FetchModule(ctx context.Context, id, importer string) (*rpc.FetchResult, error) {
	return a.dc.Transformer.Fetch(id, importer)
}

func (a *moduleAPI) ModuleGraphResolveURL(ctx context.Context, url string) (*rpc.ResolvedURL, error) {
	return a.dc.Graph.ResolveURL(url)
}

// ModuleGraphGetModuleByID returns nil for unknown ids, which the worker
// receives as null.
func (a *moduleAPI) ModuleGraphGetModuleByID(ctx context.Context, id string) (*rpc.MinimalModuleNode, error) {
	return a.dc.Graph.Minimal(id), nil
}

func (a *moduleAPI) TransformIndexHTML(ctx context.Context, url, html, originalURL string) (string, error) {
	return hmr.InjectClient(html, a.dc.Config.Dev.HMRPath), nil
}
