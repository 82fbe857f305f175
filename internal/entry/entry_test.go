package entry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/errors"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func project(t *testing.T, files map[string]string) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	writeFiles(t, root, files)
	return root
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		wantType  Type
		framework string
		code      string
	}{
		{
			name: "direct framework import",
			files: map[string]string{
				"server.ts": "import express from '@photonjs/express'\nconst app = express()\nexport default app\n",
			},
			wantType:  TypeServer,
			framework: "express",
		},
		{
			name: "framework through local module",
			files: map[string]string{
				"server.ts": "import { app } from './app'\nexport default app\n",
				"app.ts":    "import { Hono } from '@photonjs/hono'\nexport const app = new Hono()\n",
			},
			wantType:  TypeServer,
			framework: "hono",
		},
		{
			name: "legacy alias",
			files: map[string]string{
				"server.ts": "import fastify from 'vike-node/fastify'\nexport default fastify()\n",
			},
			wantType:  TypeServer,
			framework: "fastify",
		},
		{
			name: "dynamic import",
			files: map[string]string{
				"server.ts": "export const load = () => import('@photonjs/elysia')\nexport default {}\n",
			},
			wantType:  TypeServer,
			framework: "elysia",
		},
		{
			name: "framework beyond search depth",
			files: map[string]string{
				"server.ts": "import { app } from './a'\nexport default app\n",
				"a.ts":      "export { app } from './b'\n",
				"b.ts":      "import { createApp } from '@photonjs/h3'\nexport const app = createApp()\n",
			},
			wantType: TypeUniversalHandler,
		},
		{
			name: "universal handler",
			files: map[string]string{
				"server.ts": "export default { fetch: (req: Request) => new Response('ok') }\n",
			},
			wantType: TypeUniversalHandler,
		},
		{
			name: "framework without default export",
			files: map[string]string{
				"server.ts": "import express from '@photonjs/express'\nexport const app = express()\n",
			},
			code: "P102",
		},
		{
			name: "neither framework nor default export",
			files: map[string]string{
				"server.ts": "export const port = 3000\n",
			},
			code: "P103",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := project(t, tt.files)
			r := NewResolver(root, nil, nil)
			e := &ServerEntry{Name: "index", ID: "server.ts", Type: TypeAuto}

			err := r.Resolve(context.Background(), e)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
				assert.False(t, e.Resolved())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, e.Type)
			assert.Equal(t, tt.framework, e.Framework)
			assert.Equal(t, filepath.Join(root, "server.ts"), e.ResolvedID)
			assert.Equal(t, RuntimeNode, e.Runtime)
		})
	}
}

func TestResolve_MissingFile(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	err := r.Resolve(context.Background(), &ServerEntry{Name: "index", ID: "missing.ts"})
	assert.True(t, errors.HasCode(err, "P101"))
}

func TestResolve_SkipsResolved(t *testing.T) {
	r := NewResolver(t.TempDir(), nil, nil)
	e := &ServerEntry{Name: "index", ID: "missing.ts", Type: TypeServer, Framework: "hono"}
	require.NoError(t, r.Resolve(context.Background(), e))
	assert.Equal(t, "hono", e.Framework)
}

func TestResolve_Memoized(t *testing.T) {
	root := project(t, map[string]string{
		"server.ts": "import { Hono } from '@photonjs/hono'\nexport default new Hono()\n",
	})
	r := NewResolver(root, nil, nil)

	first := &ServerEntry{Name: "index", ID: "server.ts"}
	require.NoError(t, r.Resolve(context.Background(), first))

	// A memoized module is not scanned again.
	require.NoError(t, os.Remove(filepath.Join(root, "server.ts")))
	second := &ServerEntry{Name: "other", ID: "server.ts"}
	require.NoError(t, r.Resolve(context.Background(), second))
	assert.Equal(t, "hono", second.Framework)
	assert.Equal(t, TypeServer, second.Type)
}

func TestResolver_CustomFrameworks(t *testing.T) {
	root := project(t, map[string]string{
		"server.ts": "import app from 'my-framework'\nexport default app\n",
	})
	r := NewResolver(root, []Framework{{Name: "mine", Adapter: "my-framework"}}, nil)
	e := &ServerEntry{Name: "index", ID: "server.ts"}
	require.NoError(t, r.Resolve(context.Background(), e))
	assert.Equal(t, "mine", e.Framework)
}

func TestFrameworks(t *testing.T) {
	assert.Equal(t, []string{"express", "fastify", "hono", "h3", "elysia", "hattip"}, FrameworkNames())
	assert.Equal(t,
		[]string{"@photonjs/hono", "vike-node/hono", "vike-server/hono"},
		Frameworks[2].Specifiers())
}

func TestMetadata(t *testing.T) {
	root := project(t, map[string]string{
		"server.ts": "import express from '@photonjs/express'\nexport default express()\n",
		"edge.ts":   "export default { fetch: () => new Response('edge') }\n",
	})
	cfg := &config.Config{Entries: map[string]config.EntryConfig{
		"index": {ID: "server.ts", Runtime: "node"},
		"edge":  {ID: "edge.ts", Runtime: "cloudflare"},
	}}

	m := NewMetadata(cfg)
	assert.False(t, m.Frozen())
	require.NoError(t, m.ResolveAll(context.Background(), NewResolver(root, nil, nil)))
	assert.True(t, m.Frozen())

	err := m.ResolveAll(context.Background(), NewResolver(root, nil, nil))
	assert.True(t, errors.HasCode(err, "P104"))

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "index", entries[0].Name)
	assert.Equal(t, "express", entries[0].Framework)
	assert.Equal(t, TypeUniversalHandler, entries[1].Type)
	assert.Equal(t, RuntimeCloudflare, entries[1].Runtime)

	path := filepath.Join(root, "dist", filepath.FromSlash(ManifestFile))
	require.NoError(t, m.Save(path))

	loaded, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.True(t, loaded.Frozen())
	edge, ok := loaded.Get("edge")
	require.True(t, ok)
	assert.Equal(t, entries[1], edge)
}

func TestMetadata_ResolveAllFailure(t *testing.T) {
	root := project(t, map[string]string{"server.ts": "export const x = 1\n"})
	cfg := &config.Config{Entries: map[string]config.EntryConfig{"index": {ID: "server.ts"}}}

	m := NewMetadata(cfg)
	err := m.ResolveAll(context.Background(), NewResolver(root, nil, nil))
	assert.True(t, errors.HasCode(err, "P103"))
	assert.False(t, m.Frozen())
}

func TestLoadMetadata_BadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":9,"entries":[]}`), 0644))
	_, err := LoadMetadata(path)
	assert.Error(t, err)
}
