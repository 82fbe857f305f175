package entry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/errors"
)

// ManifestFile is the manifest location relative to the build output.
const ManifestFile = "photon/entries.json"

// ManifestVersion is the current manifest format.
const ManifestVersion = 1

// Manifest is the on-disk form of Metadata.
type Manifest struct {
	Version int           `json:"version"`
	Entries []ServerEntry `json:"entries"`
}

// Metadata holds the entries of one build. It can only be changed by
// ResolveAll, after which it is frozen.
type Metadata struct {
	mu      sync.RWMutex
	entries map[string]*ServerEntry
	frozen  bool
}

// NewMetadata creates unresolved metadata for the entries in cfg.
func NewMetadata(cfg *config.Config) *Metadata {
	m := &Metadata{entries: make(map[string]*ServerEntry, len(cfg.Entries))}
	for name, e := range cfg.Entries {
		m.entries[name] = &ServerEntry{
			Name:    name,
			ID:      e.ID,
			Runtime: e.Runtime,
			Type:    TypeAuto,
		}
	}
	return m
}

// ResolveAll classifies every entry with r and freezes the metadata.
// The first failure aborts the pass and leaves the metadata unfrozen.
func (m *Metadata) ResolveAll(ctx context.Context, r *Resolver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return errors.New("P104")
	}
	for _, name := range sortedNames(m.entries) {
		if err := r.Resolve(ctx, m.entries[name]); err != nil {
			return err
		}
	}
	m.frozen = true
	return nil
}

// Frozen reports whether the resolution pass has completed.
func (m *Metadata) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Get returns a copy of the named entry.
func (m *Metadata) Get(name string) (ServerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return ServerEntry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries, index first.
func (m *Metadata) Entries() []ServerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerEntry, 0, len(m.entries))
	for _, name := range sortedNames(m.entries) {
		out = append(out, *m.entries[name])
	}
	return out
}

// Manifest returns the serializable form.
func (m *Metadata) Manifest() Manifest {
	return Manifest{Version: ManifestVersion, Entries: m.Entries()}
}

// Save writes the manifest JSON to path.
func (m *Metadata) Save(path string) error {
	data, err := json.MarshalIndent(m.Manifest(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New("P122").Wrap(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.New("P122").Wrap(err)
	}
	return nil
}

// LoadMetadata reads a manifest written by Save. The result is frozen.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if man.Version != ManifestVersion {
		return nil, fmt.Errorf("%s: unsupported manifest version %d", path, man.Version)
	}
	m := &Metadata{entries: make(map[string]*ServerEntry, len(man.Entries)), frozen: true}
	for i := range man.Entries {
		e := man.Entries[i]
		m.entries[e.Name] = &e
	}
	return m, nil
}

func sortedNames(entries map[string]*ServerEntry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == config.IndexEntry || names[j] == config.IndexEntry {
			return names[i] == config.IndexEntry
		}
		return names[i] < names[j]
	})
	return names
}
