package server

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/a-h/templ"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/templating"
)

// Asset lists the browser resources behind a companion dependency.
type Asset struct {
	Stylesheets []string
	Scripts     []string
}

// DefaultAssets maps each companion dependency to its browser resources.
// The helper library runs in-process and needs nothing in the page.
var DefaultAssets = map[templating.Dependency]Asset{
	templating.DependencyHelpers: {},
	templating.DependencyIcons: {
		Stylesheets: []string{"https://static2.sharepointonline.com/files/fabric/office-ui-fabric-core/11.0.0/css/fabric.min.css"},
	},
	templating.DependencyVideo: {
		Stylesheets: []string{"https://vjs.zencdn.net/8.10.0/video-js.css"},
		Scripts:     []string{"https://vjs.zencdn.net/8.10.0/video.min.js"},
	},
}

// Assets records the companion dependencies the engine loads and adds
// their resources to the preview page shell. It implements
// templating.DependencyLoader.
type Assets struct {
	mu      sync.RWMutex
	catalog map[templating.Dependency]Asset
	loaded  []templating.Dependency
	logger  logging.Logger
}

// NewAssets returns an empty registry over catalog, or DefaultAssets when
// catalog is nil.
func NewAssets(catalog map[templating.Dependency]Asset, logger logging.Logger) *Assets {
	if catalog == nil {
		catalog = DefaultAssets
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Assets{catalog: catalog, logger: logger.WithComponent("assets")}
}

// Load implements templating.DependencyLoader.
func (a *Assets) Load(ctx context.Context, dep templating.Dependency) error {
	if _, ok := a.catalog[dep]; !ok {
		return fmt.Errorf("unknown companion dependency %q", dep)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.loaded {
		if d == dep {
			return nil
		}
	}
	a.loaded = append(a.loaded, dep)
	a.logger.Debug(ctx, "Companion dependency added to page shell", "dependency", string(dep))
	return nil
}

// Loaded returns the dependencies recorded so far, in load order.
func (a *Assets) Loaded() []templating.Dependency {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]templating.Dependency(nil), a.loaded...)
}

// head returns the link and script tags for every loaded dependency.
func (a *Assets) head() string {
	if a == nil {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var b strings.Builder
	for _, dep := range a.loaded {
		asset := a.catalog[dep]
		for _, href := range asset.Stylesheets {
			b.WriteString(`<link rel="stylesheet" href="` + templ.EscapeString(href) + `">`)
		}
		for _, src := range asset.Scripts {
			b.WriteString(`<script src="` + templ.EscapeString(src) + `"></script>`)
		}
	}
	return b.String()
}
