package modgraph

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Import kinds reported by esbuild.
const (
	KindImportStatement = "import-statement"
	KindRequireCall     = "require-call"
	KindDynamicImport   = "dynamic-import"
	KindRequireResolve  = "require-resolve"
	KindImportRule      = "import-rule"
	KindURLToken        = "url-token"
)

// Metafile is the decoded esbuild metafile.
type Metafile struct {
	Inputs  map[string]MetaInput  `json:"inputs"`
	Outputs map[string]MetaOutput `json:"outputs"`
}

// MetaInput is one source file seen by the build.
type MetaInput struct {
	Bytes   int          `json:"bytes"`
	Imports []MetaImport `json:"imports"`
	Format  string       `json:"format,omitempty"`
}

// MetaImport is one import edge.
type MetaImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// Static reports whether the import is resolved at load time.
func (i MetaImport) Static() bool {
	return i.Kind == KindImportStatement || i.Kind == KindRequireCall
}

// MetaOutput is one output file.
type MetaOutput struct {
	Bytes      int          `json:"bytes"`
	Imports    []MetaImport `json:"imports"`
	Exports    []string     `json:"exports"`
	EntryPoint string       `json:"entryPoint,omitempty"`
}

// ParseMetafile decodes the JSON metafile esbuild returns.
func ParseMetafile(data string) (*Metafile, error) {
	var m Metafile
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	if m.Inputs == nil {
		m.Inputs = map[string]MetaInput{}
	}
	if m.Outputs == nil {
		m.Outputs = map[string]MetaOutput{}
	}
	return &m, nil
}

// OutputFor returns the output produced for the entry input path (as it
// appears in Inputs).
func (m *Metafile) OutputFor(entry string) (MetaOutput, bool) {
	for _, out := range m.Outputs {
		if out.EntryPoint == entry {
			return out, true
		}
	}
	return MetaOutput{}, false
}

// InputKey converts an absolute file path into the key esbuild uses for it.
func InputKey(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}

// inputID converts a metafile input path to a module id. Inputs from
// non-file namespaces ("ns:path") are returned unchanged.
func inputID(root, path string) string {
	if isNamespaced(path) {
		return path
	}
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func isNamespaced(path string) bool {
	i := strings.Index(path, ":")
	if i <= 0 {
		return false
	}
	// Windows drive letters are not namespaces.
	return !(i == 1 && len(path) > 2 && (path[2] == '/' || path[2] == '\\'))
}
