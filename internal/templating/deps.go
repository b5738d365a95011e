package templating

import (
	"context"
	"regexp"
	"strings"
)

// Dependency names a companion the engine loads on demand.
type Dependency string

const (
	// DependencyHelpers is the extended helper library.
	DependencyHelpers Dependency = "helpers"
	// DependencyIcons is the icon font used by list and card layouts.
	DependencyIcons Dependency = "icons"
	// DependencyVideo is the video preview player.
	DependencyVideo Dependency = "video"
)

const videoPreviewMarker = "video-preview-item"

// DependencyLoader loads companion dependencies on behalf of the host, for
// instance by injecting scripts into the page shell.
type DependencyLoader interface {
	Load(ctx context.Context, dep Dependency) error
}

// DependencyLoaderFunc adapts a function to DependencyLoader.
type DependencyLoaderFunc func(ctx context.Context, dep Dependency) error

// Load implements DependencyLoader.
func (f DependencyLoaderFunc) Load(ctx context.Context, dep Dependency) error {
	return f(ctx, dep)
}

// libraryHelperNames are the helpers whose presence in a template triggers
// loading the extended helper library.
var libraryHelperNames = []string{
	"getDate", "after", "arrayify", "before", "eachIndex", "filter", "first",
	"forEach", "inArray", "isArray", "itemAt", "join", "last", "lengthEqual",
	"map", "some", "sort", "sortBy", "withAfter", "withBefore", "withFirst",
	"withGroup", "withLast", "withSort", "embed", "gist", "jsfiddle",
	"isEmpty", "iterate", "length", "and", "compare", "contains", "gt", "gte",
	"has", "eq", "ifEven", "ifNth", "ifOdd", "is", "isnt", "lt", "lte",
	"neither", "or", "unlessEq", "unlessGt", "unlessLt", "unlessGteq",
	"unlessLteq", "moment", "fileSize", "read", "readdir", "css", "ellipsis",
	"js", "sanitize", "truncate", "ul", "ol", "thumbnailImage", "i18n",
	"inflect", "ordinalize", "info", "bold", "warn", "error", "debug",
	"_inspect", "markdown", "md", "mm", "match", "isMatch", "add", "subtract",
	"divide", "multiply", "floor", "ceil", "round", "sum", "avg", "default",
	"option", "noop", "withHash", "addCommas", "phoneNumber", "random",
	"toAbbr", "toExponential", "toFixed", "toFloat", "toInt", "toPrecision",
	"extend", "forIn", "forOwn", "toPath", "get", "getObject", "hasOwn",
	"isObject", "merge", "JSONparse", "parseJSON", "pick", "JSONstringify",
	"absolute", "dirname", "relative", "basename", "stem", "extname",
	"segments", "camelcase", "capitalize", "capitalizeAll", "center", "chop",
	"dashcase", "dotcase", "hyphenate", "isString", "lowercase",
	"occurrences", "pascalcase", "pathcase", "plusify", "reverse", "replace",
	"sentence", "snakecase", "split", "startsWith", "titleize", "trim",
	"uppercase", "encodeURI", "decodeURI", "urlResolve", "urlParse",
	"stripQuerystring", "stripProtocol", "group",
}

var libraryHelperPattern = func() *regexp.Regexp {
	quoted := make([]string, len(libraryHelperNames))
	for i, name := range libraryHelperNames {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return regexp.MustCompile(`\{\{#?.*?(?:` + strings.Join(quoted, "|") + `).*?\}\}`)
}()

var iconMarkers = []string{"fabric-icon", "details-list", "document-card"}

// NeedsHelperLibrary reports whether source refers to a helper from the
// extended library.
func NeedsHelperLibrary(source string) bool {
	return libraryHelperPattern.MatchString(source)
}

// optimizeLoading screens source before compilation and loads what it
// refers to.
func (e *Engine) optimizeLoading(ctx context.Context, source string) {
	if NeedsHelperLibrary(source) {
		e.ensure(ctx, DependencyHelpers)
	}

	if e.opts.Search != nil {
		e.opts.Search.SetUseOldIcons(strings.Contains(source, "{{IconSrc}}"))
	}

	for _, marker := range iconMarkers {
		if strings.Contains(source, marker) {
			e.ensure(ctx, DependencyIcons)
			break
		}
	}

	if strings.Contains(source, "video-card") {
		e.ensure(ctx, DependencyVideo)
	}
}

// ensure loads dep once. A failed load is retried on the next request.
func (e *Engine) ensure(ctx context.Context, dep Dependency) {
	e.depMu.Lock()
	defer e.depMu.Unlock()
	if e.deps[dep] {
		return
	}

	if dep == DependencyHelpers {
		registered := 0
		for name, fn := range e.libraryHelpers() {
			if e.RegisterHelper(name, fn) {
				registered++
			}
		}
		e.logger.Debug(ctx, "Helper library loaded", "registered", registered)
	}

	if e.opts.Dependencies != nil {
		if err := e.opts.Dependencies.Load(ctx, dep); err != nil {
			e.logger.Warn(ctx, err, "Failed to load template dependency", "dependency", string(dep))
			return
		}
	}
	e.deps[dep] = true
}

// Loaded reports whether dep has been loaded.
func (e *Engine) Loaded(dep Dependency) bool {
	e.depMu.Lock()
	defer e.depMu.Unlock()
	return e.deps[dep]
}
