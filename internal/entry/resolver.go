package entry

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/errors"
	"github.com/photon-dev/photon/internal/modgraph"
)

// maxDepth bounds the import search: the entry's own imports plus one
// level through local modules.
const maxDepth = 1

// Resolver classifies entries. It is safe for concurrent use.
type Resolver struct {
	root       string
	logger     *zap.Logger
	frameworks []Framework

	canonicalOnce sync.Once
	canonical     map[string]string

	mu       sync.Mutex
	scanners map[string]*modgraph.Scanner
	memo     map[string]ServerEntry
}

// NewResolver creates a resolver for entries under root. A nil frameworks
// slice means Frameworks.
func NewResolver(root string, frameworks []Framework, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if frameworks == nil {
		frameworks = Frameworks
	}
	return &Resolver{
		root:       filepath.Clean(root),
		logger:     logger.Named("entry"),
		frameworks: frameworks,
		scanners:   make(map[string]*modgraph.Scanner),
		memo:       make(map[string]ServerEntry),
	}
}

// canonicalIDs maps every framework specifier to its framework name.
// Built once per resolver.
func (r *Resolver) canonicalIDs() map[string]string {
	r.canonicalOnce.Do(func() {
		r.canonical = make(map[string]string)
		for _, f := range r.frameworks {
			for _, spec := range f.Specifiers() {
				r.canonical[spec] = f.Name
			}
		}
	})
	return r.canonical
}

func (r *Resolver) scanner(runtime string) *modgraph.Scanner {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scanners[runtime]
	if !ok {
		s = modgraph.NewScanner(r.root, runtime, r.logger)
		r.scanners[runtime] = s
	}
	return s
}

// ResolvePath returns the absolute module path for id.
func (r *Resolver) ResolvePath(id string) string {
	p := filepath.FromSlash(id)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.root, p)
}

// Resolve classifies e in place. Entries that already carry a concrete
// type are left untouched, and each module is scanned at most once.
func (r *Resolver) Resolve(ctx context.Context, e *ServerEntry) error {
	if e.Resolved() {
		return nil
	}
	if e.Runtime == "" {
		e.Runtime = RuntimeNode
	}
	file := r.ResolvePath(e.ID)

	r.mu.Lock()
	cached, ok := r.memo[file]
	r.mu.Unlock()
	if ok {
		e.ResolvedID = cached.ResolvedID
		e.Type = cached.Type
		e.Framework = cached.Framework
		return nil
	}

	meta, err := r.scanner(e.Runtime).Scan(ctx, file)
	if err != nil {
		return err
	}
	key := modgraph.InputKey(r.root, file)

	fw := r.findFramework(meta, key)
	hasDefault := false
	if out, ok := meta.OutputFor(key); ok {
		hasDefault = slices.Contains(out.Exports, "default")
	}

	switch {
	case fw != "" && !hasDefault:
		return errors.New("P102").
			WithDetail("Entry " + strconv.Quote(e.Name) + " (" + e.ID + ") imports " + fw + " but has no default export").
			WithSuggestion("Add `export default app` to " + e.ID)
	case fw != "":
		e.Type = TypeServer
		e.Framework = fw
	case hasDefault:
		e.Type = TypeUniversalHandler
		e.Framework = ""
	default:
		return errors.New("P103").
			WithDetail("Entry " + strconv.Quote(e.Name) + " (" + e.ID + ") has no default export and imports none of the supported frameworks").
			WithSuggestion("Import one of @photonjs/{express,fastify,hono,h3,elysia,hattip} or default export a fetch handler")
	}
	e.ResolvedID = file

	r.mu.Lock()
	r.memo[file] = *e
	r.mu.Unlock()

	r.logger.Debug("entry resolved",
		zap.String("name", e.Name),
		zap.String("type", string(e.Type)),
		zap.String("framework", e.Framework),
	)
	return nil
}

// findFramework searches the static and dynamic imports of key, expanding
// local imports up to maxDepth, for a framework specifier.
func (r *Resolver) findFramework(meta *modgraph.Metafile, key string) string {
	canonical := r.canonicalIDs()

	type item struct {
		key   string
		depth int
	}
	queue := []item{{key: key}}
	seen := map[string]bool{key: true}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		in, ok := meta.Inputs[it.key]
		if !ok {
			continue
		}
		for _, imp := range in.Imports {
			if !imp.Static() && imp.Kind != modgraph.KindDynamicImport {
				continue
			}
			if imp.External {
				if name, ok := canonical[imp.Path]; ok {
					return name
				}
				continue
			}
			if it.depth < maxDepth && !seen[imp.Path] {
				seen[imp.Path] = true
				queue = append(queue, item{key: imp.Path, depth: it.depth + 1})
			}
		}
	}
	return ""
}
