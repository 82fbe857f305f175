package modgraph

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/rpc"
)

// Transformer compiles single modules for the worker's fetchModule calls.
// Results are cached until the file changes on disk.
type Transformer struct {
	graph *Graph

	mu    sync.Mutex
	cache map[string]cachedTransform
}

type cachedTransform struct {
	modTime time.Time
	size    int64
	result  rpc.FetchResult
}

// NewTransformer returns a transformer resolving ids against g.
func NewTransformer(g *Graph) *Transformer {
	return &Transformer{graph: g, cache: make(map[string]cachedTransform)}
}

// LoaderFor picks the esbuild loader for a file extension.
func LoaderFor(file string) api.Loader {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	default:
		return api.LoaderJS
	}
}

// Fetch returns the transformed code for id. Bare specifiers are
// externalized and left to the runtime.
func (t *Transformer) Fetch(id, importer string) (*rpc.FetchResult, error) {
	if isBare(id) {
		return &rpc.FetchResult{Externalize: id, Type: "module"}, nil
	}

	file := id
	if i := strings.IndexAny(file, "?#"); i >= 0 {
		file = file[:i]
	}
	switch {
	case strings.HasPrefix(file, "/") && !exists(file):
		// Root-relative url such as /src/page.ts.
		file = filepath.Join(t.graph.Root(), filepath.FromSlash(file))
	case !filepath.IsAbs(file):
		base := t.graph.Root()
		if importer != "" && filepath.IsAbs(importer) {
			base = filepath.Dir(importer)
		}
		file = filepath.Join(base, filepath.FromSlash(file))
	}

	info, err := os.Stat(file)
	if err != nil {
		return nil, errors.New("P121").WithDetail("Module " + id + " not found").Wrap(err)
	}

	t.mu.Lock()
	if c, ok := t.cache[file]; ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		t.mu.Unlock()
		res := c.result
		return &res, nil
	}
	t.mu.Unlock()

	src, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.New("P121").Wrap(err)
	}

	out := api.Transform(string(src), api.TransformOptions{
		Loader:     LoaderFor(file),
		Format:     api.FormatESModule,
		Target:     api.ESNext,
		Sourcefile: file,
		Sourcemap:  api.SourceMapInline,
		LogLevel:   api.LogLevelSilent,
	})
	if len(out.Errors) > 0 {
		msgs := api.FormatMessages(out.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		perr := errors.New("P121").WithDetail(strings.TrimSpace(strings.Join(msgs, "\n")))
		if loc := out.Errors[0].Location; loc != nil {
			perr = perr.WithLocation(file, loc.Line, loc.Column)
		}
		return nil, perr
	}

	res := rpc.FetchResult{
		Code: string(out.Code),
		File: file,
		ID:   file,
		URL:  t.graph.fileURL(file),
	}
	if n := t.graph.GetModuleByID(file); n != nil {
		res.URL = n.URL
		res.Invalidate = !n.LastInvalidated.IsZero()
	}

	t.mu.Lock()
	t.cache[file] = cachedTransform{modTime: info.ModTime(), size: info.Size(), result: res}
	t.mu.Unlock()
	return &res, nil
}

// Forget drops the cached transform of id.
func (t *Transformer) Forget(id string) {
	t.mu.Lock()
	delete(t.cache, id)
	t.mu.Unlock()
}

func isBare(id string) bool {
	if id == "" || filepath.IsAbs(id) {
		return false
	}
	return !strings.HasPrefix(id, ".") && !strings.HasPrefix(id, "/")
}

func exists(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}
