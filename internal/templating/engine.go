// Package templating compiles Handlebars templates against search result
// data.
//
// The Engine owns the helper namespace shared by every template it runs,
// the custom element registry, and the per-instance result type
// conditionals. Parsed templates are cached by source so rendering the same
// template twice parses it once. Heavier companions (the extended helper
// library, icon fonts, the video player) are loaded only when a template
// refers to them.
package templating

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aymerick/raymond"
	"github.com/aymerick/raymond/parser"
	"github.com/dgraph-io/ristretto"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/fetch"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

// DefaultMaxResultTypeRules caps the number of rules compiled into one
// result type conditional.
const DefaultMaxResultTypeRules = 64

// Helpers built into the expression engine itself. They cannot be replaced.
var reservedHelpers = map[string]bool{
	"if":     true,
	"unless": true,
	"with":   true,
	"each":   true,
	"log":    true,
	"lookup": true,
	"equal":  true,
}

var partialBlockOpen = regexp.MustCompile(`\{\{#>\s*resultTypes\b`)

// Options configures an Engine.
type Options struct {
	Fetcher      fetch.Fetcher
	Search       extension.SearchService
	Host         extension.Host
	Dependencies DependencyLoader
	Logger       logging.Logger

	// Culture selects month and day names for date formatting.
	Culture string
	// Location is the page's local time zone.
	Location *time.Location
	Bias     TimeZoneBias
	Now      func() time.Time

	// TemplateExtensions are the accepted template file extensions.
	TemplateExtensions []string
	MaxResultTypeRules int
	CacheCounters      int64
	CacheMaxCost       int64
}

// Engine compiles and runs templates. It is safe for concurrent use.
type Engine struct {
	opts     Options
	logger   logging.Logger
	compiled *ristretto.Cache
	compiles atomic.Int64
	dst      bool

	mu            sync.RWMutex
	helpers       map[string]any
	webComponents map[string]any
	resultTypes   map[string]*raymond.Template

	depMu sync.Mutex
	deps  map[Dependency]bool
}

// New creates an Engine and registers the built-in helpers.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Culture == "" {
		opts.Culture = "en-US"
	}
	if opts.MaxResultTypeRules <= 0 {
		opts.MaxResultTypeRules = DefaultMaxResultTypeRules
	}
	if opts.CacheCounters <= 0 {
		opts.CacheCounters = 1e5
	}
	if opts.CacheMaxCost <= 0 {
		opts.CacheMaxCost = 1 << 26
	}

	compiled, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        opts.CacheCounters,
		MaxCost:            opts.CacheMaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}

	e := &Engine{
		opts:          opts,
		logger:        opts.Logger.WithComponent("templating"),
		compiled:      compiled,
		helpers:       make(map[string]any),
		webComponents: make(map[string]any),
		resultTypes:   make(map[string]*raymond.Template),
		deps:          make(map[Dependency]bool),
	}
	e.dst = isDST(opts.Now().In(opts.Location))

	for name, fn := range e.builtinHelpers() {
		e.RegisterHelper(name, fn)
	}
	return e, nil
}

// Close releases the compile cache.
func (e *Engine) Close() error {
	e.compiled.Close()
	return nil
}

// ExtensionContext returns the bundle handed to helper and web component
// instances.
func (e *Engine) ExtensionContext() *extension.Context {
	return &extension.Context{
		Host:     e.opts.Host,
		Search:   e.opts.Search,
		Template: e,
	}
}

// Compiles reports how many times a template source was parsed.
func (e *Engine) Compiles() int64 {
	return e.compiles.Load()
}

// RegisterHelper adds fn to the helper namespace. The first registration of
// a name wins: later attempts and reserved names return false. fn must be a
// function with exactly one result.
func (e *Engine) RegisterHelper(name string, fn any) bool {
	if name == "" || reservedHelpers[name] {
		return false
	}
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() != 1 {
		e.logger.Warn(context.Background(), nil, "Ignored helper with unsupported signature", "helper", name)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.helpers[name]; exists {
		return false
	}
	e.helpers[name] = fn
	return true
}

// HasHelper reports whether a helper named name is registered.
func (e *Engine) HasHelper(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.helpers[name]
	return ok || reservedHelpers[name]
}

// Helpers returns the registered helper names, sorted.
func (e *Engine) Helpers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.helpers))
	for name := range e.helpers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterHelpers instantiates helper extensions and registers their
// functions. Each instance receives the extension context before its
// helper is read. It returns the number of helpers registered.
func (e *Engine) RegisterHelpers(descs []extension.Descriptor) int {
	ctx := context.Background()
	registered := 0
	for _, d := range descs {
		if e.HasHelper(d.Name) {
			continue
		}
		fn, err := e.helperFrom(d)
		if err != nil {
			e.logger.Error(ctx, err, "Unable to initialize custom helper", "helper", d.Name, "display_name", d.DisplayName)
			continue
		}
		if fn == nil {
			continue
		}
		if e.RegisterHelper(d.Name, fn) {
			e.logger.Debug(ctx, "Registered helper", "helper", d.Name)
			registered++
		}
	}
	return registered
}

func (e *Engine) helperFrom(d extension.Descriptor) (fn any, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			err = fmt.Errorf("helper %s panicked: %v", d.Name, r)
		}
	}()

	inst, err := extension.CreateAs[extension.HelperInstance](d)
	if err != nil {
		return nil, err
	}
	if aware, ok := inst.(extension.ContextAware); ok {
		aware.SetContext(e.ExtensionContext())
	}
	fn = inst.Helper()
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return nil, nil
	}
	return fn, nil
}

func (e *Engine) helperSnapshot() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(e.helpers))
	for name, fn := range e.helpers {
		snapshot[name] = fn
	}
	return snapshot
}

// compiledTemplate is a parsed template with the helper calls it makes.
type compiledTemplate struct {
	tpl   *raymond.Template
	calls []helperCall
}

// compile returns the parsed template for source, parsing it on a cache
// miss.
func (e *Engine) compile(source string) (*compiledTemplate, error) {
	if v, ok := e.compiled.Get(source); ok {
		if c, ok := v.(*compiledTemplate); ok {
			return c, nil
		}
	}

	rewritten := partialBlockOpen.ReplaceAllString(source, "{{#resultTypes")
	tpl, err := raymond.Parse(rewritten)
	if err != nil {
		return nil, apperrors.NewTemplateError(apperrors.ErrCodeTemplateCompile, "failed to compile template", err)
	}
	prog, err := parser.Parse(rewritten)
	if err != nil {
		return nil, apperrors.NewTemplateError(apperrors.ErrCodeTemplateCompile, "failed to compile template", err)
	}
	c := &compiledTemplate{tpl: tpl, calls: helperCalls(prog)}
	e.compiles.Add(1)
	e.compiled.Set(source, c, int64(len(source))+1)
	e.compiled.Wait()
	return c, nil
}

// exec runs tpl on a private copy carrying the current helper namespace.
func (e *Engine) exec(tpl *raymond.Template, data any, frame *raymond.DataFrame) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = apperrors.NewTemplateError(apperrors.ErrCodeTemplateExec, "template execution failed", fmt.Errorf("%v", r))
		}
	}()

	run := tpl.Clone()
	run.RegisterHelpers(e.helperSnapshot())
	if frame == nil {
		out, err = run.Exec(data)
	} else {
		out, err = run.ExecWith(data, frame)
	}
	if err != nil {
		return "", apperrors.NewTemplateError(apperrors.ErrCodeTemplateExec, "template execution failed", err)
	}
	return out, nil
}

// Render compiles and runs source without the dependency screening done by
// ProcessTemplate.
func (e *Engine) Render(data any, source string) (string, error) {
	c, err := e.compile(source)
	if err != nil {
		return "", err
	}
	if err := e.checkHelpers(c.calls); err != nil {
		return "", apperrors.NewTemplateError(apperrors.ErrCodeTemplateExec, "template execution failed", err)
	}
	return e.exec(c.tpl, data, rootFrame(data))
}

// ProcessTemplate compiles source and runs it against data. Companion
// dependencies the source refers to are loaded first; the video player is
// loaded when the output contains a video preview.
func (e *Engine) ProcessTemplate(ctx context.Context, data any, source string) (string, error) {
	perf := logging.StartOperation(e.logger, "process_template")

	e.optimizeLoading(ctx, source)

	out, err := e.Render(data, source)
	if err != nil {
		perf.EndWithError(ctx, err)
		return "", err
	}
	if strings.Contains(out, videoPreviewMarker) {
		e.ensure(ctx, DependencyVideo)
	}
	perf.End(ctx)
	return out, nil
}

// rootFrame exposes the instance id of the root context as @instanceId.
func rootFrame(data any) *raymond.DataFrame {
	frame := raymond.NewDataFrame()
	switch v := data.(type) {
	case map[string]any:
		if id, ok := v["instanceId"].(string); ok {
			frame.Set("instanceId", id)
		}
	case interface{ InstanceKey() string }:
		frame.Set("instanceId", v.InstanceKey())
	}
	return frame
}
