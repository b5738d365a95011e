package render

import (
	"context"
	"fmt"
	"html"
	"sort"
	"sync"

	"github.com/oxtoacart/bpool"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/sanitizer"
)

// TemplateEngine compiles templates and expands the custom elements they
// produce.
type TemplateEngine interface {
	ProcessTemplate(ctx context.Context, data any, source string) (string, error)
	ExpandWebComponents(ctx context.Context, markup string) string
}

// Sanitizer cleans rendered markup.
type Sanitizer interface {
	Sanitize(markup string) string
}

// Surface renders one template instance. Output is cached against the raw
// template source: a new context with the same source returns the previous
// output until Forget is called.
type Surface struct {
	id        string
	engine    TemplateEngine
	sanitizer Sanitizer
	logger    logging.Logger
	pool      *bpool.BufferPool
	cache     Cache
}

// Render runs source against data and returns the sanitized output wrapped
// in the element its styles are scoped to.
func (s *Surface) Render(ctx context.Context, data any, source string) (Result, error) {
	res, err := s.cache.GetOrCompute(ctx, source, func(ctx context.Context) (string, error) {
		return s.process(ctx, data, source)
	})
	if err != nil {
		s.logger.Error(ctx, err, "Template processing failed", "instance_id", s.id)
		return Result{}, err
	}

	switch {
	case !res.Computed:
		s.logger.Debug(ctx, "Set to same template content", "instance_id", s.id)
	case res.Changed:
		s.logger.Debug(ctx, "Changes to processed template, performing rerender", "instance_id", s.id)
	default:
		s.logger.Debug(ctx, "No changes to processed template, not rerendering", "instance_id", s.id)
	}
	return res, nil
}

func (s *Surface) process(ctx context.Context, data any, source string) (string, error) {
	out, err := s.engine.ProcessTemplate(ctx, data, source)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}

	scope := sanitizer.ScopeID(s.id)
	out = s.engine.ExpandWebComponents(ctx, out)
	out = sanitizer.ScopeStyles(out, scope)
	out = s.sanitizer.Sanitize(out)

	buf := s.pool.Get()
	defer s.pool.Put(buf)
	fmt.Fprintf(buf, `<div id="%s">`, html.EscapeString(scope))
	buf.WriteString(out)
	buf.WriteString("</div>")
	return buf.String(), nil
}

// ID returns the instance id of the surface.
func (s *Surface) ID() string {
	return s.id
}

// Last returns the last rendered output.
func (s *Surface) Last() (string, bool) {
	return s.cache.Last()
}

// Forget makes the next Render recompute even for an unchanged source.
func (s *Surface) Forget() {
	s.cache.Forget()
}

// Computes returns how many times the surface ran the pipeline.
func (s *Surface) Computes() int64 {
	return s.cache.Computes()
}

// Surfaces owns the surfaces of a page, one per template instance.
type Surfaces struct {
	engine    TemplateEngine
	sanitizer Sanitizer
	logger    logging.Logger
	pool      *bpool.BufferPool

	mu       sync.Mutex
	surfaces map[string]*Surface
}

// NewSurfaces creates an empty set of surfaces sharing engine and
// sanitizer.
func NewSurfaces(engine TemplateEngine, san Sanitizer, logger logging.Logger) *Surfaces {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Surfaces{
		engine:    engine,
		sanitizer: san,
		logger:    logger.WithComponent("render"),
		pool:      bpool.NewBufferPool(32),
		surfaces:  make(map[string]*Surface),
	}
}

// Get returns the surface for instanceID, creating it on first use.
func (s *Surfaces) Get(instanceID string) *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()

	if surface, ok := s.surfaces[instanceID]; ok {
		return surface
	}
	surface := &Surface{
		id:        instanceID,
		engine:    s.engine,
		sanitizer: s.sanitizer,
		logger:    s.logger,
		pool:      s.pool,
	}
	s.surfaces[instanceID] = surface
	return surface
}

// Render renders source on the surface of instanceID.
func (s *Surfaces) Render(ctx context.Context, instanceID string, data any, source string) (Result, error) {
	return s.Get(instanceID).Render(ctx, data, source)
}

// ForgetAll makes every surface recompute on its next render.
func (s *Surfaces) ForgetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, surface := range s.surfaces {
		surface.Forget()
	}
}

// Remove drops the surface of instanceID.
func (s *Surfaces) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.surfaces, instanceID)
}

// IDs returns the instance ids of the known surfaces, sorted.
func (s *Surfaces) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.surfaces))
	for id := range s.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
