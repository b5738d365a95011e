package extension

import (
	"context"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

// Context is the bundle handed to every instance the host creates.
type Context struct {
	Host     Host
	Search   SearchService
	Template TemplateService
}

// Host describes the page hosting the search surface.
type Host struct {
	InstanceID string
	Culture    string
	SiteURL    string
	Logger     logging.Sink
	Properties map[string]any
}

// ContextAware instances receive the extension context after construction.
type ContextAware interface {
	SetContext(ctx *Context)
}

// TemplateService is the part of the template engine exposed to extensions.
type TemplateService interface {
	ProcessTemplate(ctx context.Context, data any, source string) (string, error)
	RegisterHelper(name string, fn any) bool
}

// HelperInstance provides a template helper function. The function follows
// the template engine's helper conventions.
type HelperInstance interface {
	Helper() any
}

// WebComponentInstance renders a custom element server side. Attributes
// arrive resolved: data- prefixes stripped, names camel-cased, "true" and
// "false" turned into booleans, and the element's inner markup under
// "innerHTML".
type WebComponentInstance interface {
	Render(attrs map[string]any) (string, error)
}

// QueryModifierInstance rewrites the query text before it reaches the
// data source.
type QueryModifierInstance interface {
	ModifyQuery(ctx context.Context, queryText string) (string, error)
}

// Suggestion is a single query suggestion.
type Suggestion struct {
	DisplayText string         `json:"displayText"`
	GroupName   string         `json:"groupName,omitempty"`
	IconSrc     string         `json:"iconSrc,omitempty"`
	TargetURL   string         `json:"targetUrl,omitempty"`
	CustomTypes map[string]any `json:"customTypes,omitempty"`
}

// SuggestionProviderInstance supplies query suggestions.
type SuggestionProviderInstance interface {
	IsSuggestionsEnabled() bool
	Suggestions(ctx context.Context, queryText string) ([]Suggestion, error)
}

// RefinerInstance renders a refiner panel entry.
type RefinerInstance interface {
	RenderRefiner(ctx context.Context, refiner RefinementResult, selected []RefinementValue) (string, error)
}
