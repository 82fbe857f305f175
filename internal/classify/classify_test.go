package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/photon-dev/photon/internal/modgraph"
)

// fakeGraph maps a module to its importers.
type fakeGraph map[string][]string

func (g fakeGraph) Has(id string) bool {
	if _, ok := g[id]; ok {
		return true
	}
	for _, importers := range g {
		for _, imp := range importers {
			if imp == id {
				return true
			}
		}
	}
	return false
}

func (g fakeGraph) Importers(id string) []string { return g[id] }

// server.ts <- app.ts <- util.ts
// pages/+middleware.ts <- auth.ts
// pages/index.page.ts <- button.ts
// a.ts <-> b.ts (cycle)
var graph = fakeGraph{
	"/p/app.ts":                {"/p/server.ts"},
	"/p/util.ts":               {"/p/app.ts"},
	"/p/auth.ts":               {"/p/pages/+middleware.ts"},
	"/p/pages/+middleware.ts":  nil,
	"/p/button.ts":             {"/p/pages/index.page.ts"},
	"/p/pages/index.page.ts":   nil,
	"/p/a.ts":                  {"/p/b.ts"},
	"/p/b.ts":                  {"/p/a.ts"},
	"/p/shared.ts":             {"/p/auth.ts", "/p/util.ts"},
	"/p/pages/+middleware.css": nil,
}

var entries = []string{"/p/server.ts"}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		changed     []string
		kind        Kind
		trigger     string
		invalidated []string
	}{
		{
			name:        "direct entry change",
			changed:     []string{"/p/server.ts"},
			kind:        EntryImpacting,
			trigger:     "/p/server.ts",
			invalidated: []string{"/p/server.ts"},
		},
		{
			name:        "transitive import of entry",
			changed:     []string{"/p/util.ts"},
			kind:        EntryImpacting,
			trigger:     "/p/server.ts",
			invalidated: []string{"/p/app.ts", "/p/server.ts", "/p/util.ts"},
		},
		{
			name:        "middleware importer",
			changed:     []string{"/p/auth.ts"},
			kind:        MiddlewareImpacting,
			trigger:     "/p/pages/+middleware.ts",
			invalidated: []string{"/p/auth.ts", "/p/pages/+middleware.ts"},
		},
		{
			name:        "page only",
			changed:     []string{"/p/button.ts"},
			kind:        LeafImpacting,
			invalidated: []string{"/p/button.ts", "/p/pages/index.page.ts"},
		},
		{
			name:        "cycle terminates",
			changed:     []string{"/p/a.ts"},
			kind:        LeafImpacting,
			invalidated: []string{"/p/a.ts", "/p/b.ts"},
		},
		{
			name:        "entry wins over middleware",
			changed:     []string{"/p/shared.ts"},
			kind:        EntryImpacting,
			trigger:     "/p/server.ts",
			invalidated: []string{"/p/app.ts", "/p/auth.ts", "/p/pages/+middleware.ts", "/p/server.ts", "/p/shared.ts", "/p/util.ts"},
		},
		{
			name:        "file not in graph",
			changed:     []string{"/p/new-file.ts"},
			kind:        LeafImpacting,
			invalidated: []string{},
		},
		{
			name:        "middleware named file not in graph",
			changed:     []string{"/p/pages/+middleware.tsx"},
			kind:        LeafImpacting,
			invalidated: []string{},
		},
		{
			name:        "duplicate changes",
			changed:     []string{"/p/button.ts", "/p/button.ts"},
			kind:        LeafImpacting,
			invalidated: []string{"/p/button.ts", "/p/pages/index.page.ts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(graph, tt.changed, entries, nil)
			assert.Equal(t, tt.kind, v.Kind, "kind")
			assert.Equal(t, tt.trigger, v.Trigger, "trigger")
			assert.Equal(t, tt.invalidated, v.Invalidated, "invalidated")
			assert.Equal(t, tt.kind != LeafImpacting, v.NeedsRestart())
		})
	}
}

func TestClassifyCustomPatterns(t *testing.T) {
	v := Classify(graph, []string{"/p/button.ts"}, entries, []string{"*.page.ts"})
	assert.Equal(t, MiddlewareImpacting, v.Kind)
	assert.Equal(t, "/p/pages/index.page.ts", v.Trigger)

	v = Classify(graph, []string{"/p/auth.ts"}, entries, []string{})
	assert.Equal(t, LeafImpacting, v.Kind)
}

func TestClassifyRealGraph(t *testing.T) {
	g := modgraph.NewGraph("/proj")
	g.Update(&modgraph.Metafile{Inputs: map[string]modgraph.MetaInput{
		"server.ts":       {Imports: []modgraph.MetaImport{{Path: "lib/db.ts", Kind: modgraph.KindImportStatement}}},
		"lib/db.ts":       {},
		"pages/button.ts": {},
	}})

	v := Classify(g, []string{"/proj/lib/db.ts"}, []string{"/proj/server.ts"}, nil)
	assert.True(t, v.NeedsRestart())

	v = Classify(g, []string{"/proj/pages/button.ts"}, []string{"/proj/server.ts"}, nil)
	assert.False(t, v.NeedsRestart())
}

func TestMatchesMiddleware(t *testing.T) {
	assert.True(t, MatchesMiddleware("/p/pages/+middleware.ts", DefaultMiddlewarePatterns))
	assert.True(t, MatchesMiddleware("/p/+middleware.js", DefaultMiddlewarePatterns))
	assert.False(t, MatchesMiddleware("/p/middleware.ts", DefaultMiddlewarePatterns))
	assert.False(t, MatchesMiddleware("/p/+middleware/index.ts", DefaultMiddlewarePatterns))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "leaf", LeafImpacting.String())
	assert.Equal(t, "entry", EntryImpacting.String())
	assert.Equal(t, "middleware", MiddlewareImpacting.String())
}
