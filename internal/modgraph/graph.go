// Package modgraph keeps photon's view of which modules import which.
//
// The graph is fed from esbuild metafiles (see Scanner) and answers the
// queries the dev server needs: importers for change classification, id and
// url lookups for the worker, and per-module invalidation stamps.
package modgraph

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/photon-dev/photon/internal/rpc"
)

// ExternalURLPrefix prefixes the url of bare (external) specifiers.
const ExternalURLPrefix = "/@id/"

// FSURLPrefix prefixes the url of files outside the project root.
const FSURLPrefix = "/@fs/"

// Node is one module.
type Node struct {
	// ID is the absolute file path, or the bare specifier for externals.
	ID string
	// File is the absolute file path. Empty for externals.
	File string
	// URL is the dev server url of the module.
	URL string
	// External marks bare specifiers left to the runtime.
	External bool
	// LastInvalidated is zero until Invalidate is called.
	LastInvalidated time.Time

	importers map[string]struct{}
	imported  map[string]struct{}
}

func (n *Node) clone() *Node {
	c := *n
	c.importers = copySet(n.importers)
	c.imported = copySet(n.imported)
	return &c
}

// Importers returns the ids of modules importing n, sorted.
func (n *Node) Importers() []string { return sortedKeys(n.importers) }

// Imported returns the ids of modules n imports, sorted.
func (n *Node) Imported() []string { return sortedKeys(n.imported) }

// Graph is a concurrency-safe module graph.
type Graph struct {
	root string

	mu     sync.RWMutex
	nodes  map[string]*Node
	byFile map[string]map[string]struct{}
}

// NewGraph returns an empty graph rooted at root.
func NewGraph(root string) *Graph {
	return &Graph{
		root:   filepath.Clean(root),
		nodes:  make(map[string]*Node),
		byFile: make(map[string]map[string]struct{}),
	}
}

// Root returns the project root.
func (g *Graph) Root() string { return g.root }

// Len returns the number of modules.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Update replaces the outgoing edges of every input in meta.
func (g *Graph) Update(meta *Metafile) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for input, in := range meta.Inputs {
		id := inputID(g.root, input)
		n := g.ensure(id, false)

		for dep := range n.imported {
			if target := g.nodes[dep]; target != nil {
				delete(target.importers, id)
			}
		}
		n.imported = make(map[string]struct{})

		for _, imp := range in.Imports {
			depID := imp.Path
			if !imp.External {
				depID = inputID(g.root, imp.Path)
			}
			dep := g.ensure(depID, imp.External)
			n.imported[depID] = struct{}{}
			dep.importers[id] = struct{}{}
		}
	}
}

func (g *Graph) ensure(id string, external bool) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node{
		ID:        id,
		External:  external,
		importers: make(map[string]struct{}),
		imported:  make(map[string]struct{}),
	}
	if external || isNamespaced(id) {
		n.URL = ExternalURLPrefix + id
	} else {
		n.File = id
		n.URL = g.fileURL(id)
		if g.byFile[id] == nil {
			g.byFile[id] = make(map[string]struct{})
		}
		g.byFile[id][id] = struct{}{}
	}
	g.nodes[id] = n
	return n
}

func (g *Graph) fileURL(file string) string {
	rel, err := filepath.Rel(g.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return FSURLPrefix + strings.TrimPrefix(filepath.ToSlash(file), "/")
	}
	return "/" + filepath.ToSlash(rel)
}

// Has reports whether id is in the graph.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// GetModuleByID returns a snapshot of the module, or nil.
func (g *Graph) GetModuleByID(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return n.clone()
	}
	return nil
}

// GetModulesByFile returns snapshots of every module backed by file.
func (g *Graph) GetModulesByFile(file string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.byFile[filepath.Clean(file)]
	nodes := make([]*Node, 0, len(ids))
	for _, id := range sortedKeys(ids) {
		nodes = append(nodes, g.nodes[id].clone())
	}
	return nodes
}

// Importers returns the ids importing id, sorted.
func (g *Graph) Importers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return sortedKeys(n.importers)
	}
	return nil
}

// Invalidate stamps the module as invalidated. It reports whether the
// module exists.
func (g *Graph) Invalidate(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if ok {
		n.LastInvalidated = time.Now()
	}
	return ok
}

// Delete removes a module and its edges.
func (g *Graph) Delete(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	for dep := range n.imported {
		if target := g.nodes[dep]; target != nil {
			delete(target.importers, id)
		}
	}
	for imp := range n.importers {
		if importer := g.nodes[imp]; importer != nil {
			delete(importer.imported, id)
		}
	}
	if n.File != "" {
		delete(g.byFile[n.File], id)
		if len(g.byFile[n.File]) == 0 {
			delete(g.byFile, n.File)
		}
	}
	delete(g.nodes, id)
	return true
}

// Minimal returns the wire shape of a module, or nil.
func (g *Graph) Minimal(id string) *rpc.MinimalModuleNode {
	n := g.GetModuleByID(id)
	if n == nil {
		return nil
	}
	return &rpc.MinimalModuleNode{
		ID:        n.ID,
		File:      n.File,
		URL:       n.URL,
		Type:      "js",
		Importers: n.Importers(),
	}
}

// ResolveURL maps a dev server url to a module id. Files that exist on
// disk resolve even before the graph has seen them.
func (g *Graph) ResolveURL(rawURL string) (*rpc.ResolvedURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("modgraph: parse url %q: %w", rawURL, err)
	}
	clean := path.Clean("/" + strings.TrimPrefix(u.Path, "/"))

	switch {
	case strings.HasPrefix(clean, ExternalURLPrefix):
		spec := strings.TrimPrefix(clean, ExternalURLPrefix)
		return &rpc.ResolvedURL{URL: clean, ID: spec}, nil
	case strings.HasPrefix(clean, FSURLPrefix):
		file := filepath.FromSlash("/" + strings.TrimPrefix(clean, FSURLPrefix))
		return g.resolveFile(clean, file)
	default:
		file := filepath.Join(g.root, filepath.FromSlash(clean))
		return g.resolveFile(clean, file)
	}
}

func (g *Graph) resolveFile(u, file string) (*rpc.ResolvedURL, error) {
	g.mu.RLock()
	_, known := g.nodes[file]
	g.mu.RUnlock()
	if !known {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("modgraph: cannot resolve %s: %w", u, err)
		}
	}
	return &rpc.ResolvedURL{URL: u, ID: file}, nil
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
