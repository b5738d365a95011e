package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"gopkg.in/yaml.v3"
)

// ExportsSymbol is the symbol a plugin file must export. It must be a
// variable of type map[string]any or a func() map[string]any.
const ExportsSymbol = "Exports"

// Manifest maps library ids to plugin files.
type Manifest struct {
	Libraries []ManifestEntry `yaml:"libraries"`
}

// ManifestEntry is a single library entry.
type ManifestEntry struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
	Name string `yaml:"name,omitempty"`
}

// ReadManifest parses the manifest at path. Relative plugin paths are
// resolved against the manifest's directory.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i := range manifest.Libraries {
		if !filepath.IsAbs(manifest.Libraries[i].Path) {
			manifest.Libraries[i].Path = filepath.Join(base, manifest.Libraries[i].Path)
		}
	}
	return manifest, nil
}

// ParseManifest parses manifest YAML and normalizes the library ids.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	seen := make(map[string]bool, len(manifest.Libraries))
	for i, entry := range manifest.Libraries {
		id, err := NormalizeID(entry.ID)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("manifest entry %s: empty path", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("manifest entry %s: duplicate id", id)
		}
		seen[id] = true
		manifest.Libraries[i].ID = id
	}
	return &manifest, nil
}

// Opener opens a plugin file and looks up a symbol in it.
type Opener func(path string) (lookup func(symbol string) (any, error), err error)

func openPlugin(path string) (func(string) (any, error), error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return func(symbol string) (any, error) {
		return p.Lookup(symbol)
	}, nil
}

// PluginSource loads modules from Go plugin files listed in a manifest.
type PluginSource struct {
	mu      sync.Mutex
	entries map[string]ManifestEntry
	open    Opener
}

// NewPluginSource creates a PluginSource over manifest.
func NewPluginSource(manifest *Manifest) *PluginSource {
	return NewPluginSourceWithOpener(manifest, openPlugin)
}

// NewPluginSourceWithOpener creates a PluginSource with a custom opener.
func NewPluginSourceWithOpener(manifest *Manifest, open Opener) *PluginSource {
	entries := make(map[string]ManifestEntry)
	if manifest != nil {
		for _, e := range manifest.Libraries {
			entries[e.ID] = e
		}
	}
	return &PluginSource{entries: entries, open: open}
}

// LoadModule implements Source.
func (s *PluginSource) LoadModule(ctx context.Context, id string) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}

	lookup, err := s.open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", entry.Path, err)
	}
	sym, err := lookup(ExportsSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", entry.Path, err)
	}

	switch exports := sym.(type) {
	case *map[string]any:
		return Module(*exports), nil
	case *Module:
		return *exports, nil
	case map[string]any:
		return Module(exports), nil
	case func() map[string]any:
		return Module(exports()), nil
	default:
		return nil, fmt.Errorf("plugin %s: symbol %s has unsupported type %T", entry.Path, ExportsSymbol, sym)
	}
}
