package templating

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
)

var (
	dataAttribute  = regexp.MustCompile(`data-(.+)`)
	booleanLiteral = regexp.MustCompile(`(?i)^(true|false)$`)
	customTagName  = regexp.MustCompile(`^\w+(-\w+)+$`)
	isWebComponent = extension.Constructs[extension.WebComponentInstance]()
	titleCaser     = cases.Title(language.Und, cases.NoLower)
)

// RegisterWebComponent adds a custom element rendered by instances of
// class. The tag must be a valid custom element name and class a
// constructor of web component instances. A tag is only registered once.
func (e *Engine) RegisterWebComponent(tag string, class any) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if !customTagName.MatchString(tag) || !isWebComponent(class) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.webComponents[tag]; exists {
		return false
	}
	e.webComponents[tag] = class
	return true
}

// RegisterWebComponents registers the web component extensions and the
// slider and livepersona wrapper helpers. It returns the number of
// components registered.
func (e *Engine) RegisterWebComponents(descs []extension.Descriptor) int {
	ctx := context.Background()
	registered := 0
	for _, d := range descs {
		if e.RegisterWebComponent(d.Name, d.Class) {
			e.logger.Debug(ctx, "Registered web component", "tag", d.Name)
			registered++
		} else if !e.HasWebComponent(d.Name) {
			e.logger.Warn(ctx, nil, "Ignored invalid web component", "tag", d.Name, "display_name", d.DisplayName)
		}
	}

	e.RegisterHelper("slider", sliderHelper)
	e.RegisterHelper("livepersona", livePersonaHelper)
	return registered
}

// HasWebComponent reports whether tag is a registered custom element.
func (e *Engine) HasWebComponent(tag string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.webComponents[strings.ToLower(tag)]
	return ok
}

// WebComponents returns the registered custom element tags, sorted.
func (e *Engine) WebComponents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tags := make([]string, 0, len(e.webComponents))
	for tag := range e.webComponents {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ResolveAttributes turns element attributes into component props: data-
// prefixes are stripped, names camel-cased, "true" and "false" become
// booleans and the inner markup is passed as innerHTML.
func ResolveAttributes(attrs []html.Attribute, innerHTML string) map[string]any {
	props := make(map[string]any, len(attrs)+1)
	for _, a := range attrs {
		name := a.Key
		if m := dataAttribute.FindStringSubmatch(name); m != nil {
			name = m[1]
		}
		name = camelCase(name)

		var value any = a.Val
		if booleanLiteral.MatchString(a.Val) {
			value = strings.ToLower(a.Val) == "true"
		}
		props[name] = value
	}
	props["innerHTML"] = innerHTML
	return props
}

func camelCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		b.WriteString(titleCaser.String(strings.ToLower(w)))
	}
	return b.String()
}

// ExpandWebComponents renders every registered custom element found in
// markup. Rendered content is placed inside the element; an element whose
// component fails is left untouched.
func (e *Engine) ExpandWebComponents(ctx context.Context, markup string) string {
	if len(e.WebComponents()) == 0 {
		return markup
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				e.logger.Warn(ctx, z.Err(), "Stopped expanding web components")
			}
			return b.String()
		}

		raw := string(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			b.WriteString(raw)
			continue
		}
		tok := z.Token()
		class, ok := e.webComponentClass(tok.Data)
		if !ok {
			b.WriteString(raw)
			continue
		}

		inner, closing := "", ""
		if tt == html.StartTagToken {
			inner, closing = elementBody(z, tok.Data)
		}
		rendered, err := e.renderWebComponent(class, ResolveAttributes(tok.Attr, inner))
		if err != nil {
			e.logger.Warn(ctx, err, "Web component failed to render", "tag", tok.Data)
			rendered = inner
		}
		b.WriteString(raw)
		b.WriteString(rendered)
		if closing == "" && tt == html.StartTagToken {
			closing = "</" + tok.Data + ">"
		}
		b.WriteString(closing)
	}
}

// elementBody consumes tokens up to the end tag matching name and returns
// the raw markup in between along with the raw end tag.
func elementBody(z *html.Tokenizer, name string) (inner, closing string) {
	var b strings.Builder
	depth := 1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String(), ""
		}
		raw := string(z.Raw())
		switch tt {
		case html.StartTagToken:
			if tagName(z) == name {
				depth++
			}
		case html.EndTagToken:
			if tagName(z) == name {
				depth--
				if depth == 0 {
					return b.String(), raw
				}
			}
		}
		b.WriteString(raw)
	}
}

func tagName(z *html.Tokenizer) string {
	name, _ := z.TagName()
	return string(name)
}

func (e *Engine) webComponentClass(tag string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	class, ok := e.webComponents[tag]
	return class, ok
}

func (e *Engine) renderWebComponent(class any, props map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("web component panicked: %v", r)
		}
	}()

	inst, err := extension.CreateAs[extension.WebComponentInstance](extension.Descriptor{Class: class})
	if err != nil {
		return "", err
	}
	if aware, ok := inst.(extension.ContextAware); ok {
		aware.SetContext(e.ExtensionContext())
	}
	return inst.Render(props)
}

// sliderHelper wraps its block in the slider component. Usage:
//
//	{{#slider items=items options=sliderOptions}}<div>{{Title}}</div>{{/slider}}
func sliderHelper(options *raymond.Options) raymond.SafeString {
	return raymond.SafeString(fmt.Sprintf(
		`<pnp-slider-component data-items="%s" data-options="%s" data-template="%s"></pnp-slider-component>`,
		raymond.Escape(jsonAttr(options.HashProp("items"))),
		raymond.Escape(jsonAttr(options.HashProp("options"))),
		raymond.Escape(options.Fn())))
}

// livePersonaHelper wraps its block in the live persona card. Usage:
//
//	{{#livepersona upn=AuthorOWSUSER disableHover=false}}{{Author}}{{/livepersona}}
func livePersonaHelper(options *raymond.Options) raymond.SafeString {
	return raymond.SafeString(fmt.Sprintf(
		`<pnp-live-persona data-upn="%s" data-disable-hover="%t" data-template="%s"></pnp-live-persona>`,
		raymond.Escape(options.HashStr("upn")),
		raymond.IsTrue(options.HashProp("disableHover")),
		raymond.Escape(options.Fn())))
}

func jsonAttr(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
