package sanitizer

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// TemplateIDPrefix prefixes the id of the element wrapping a rendered
// template.
const TemplateIDPrefix = "pnp-modern-search-template_"

// ScopeID returns the element id styles of instanceID are scoped to.
func ScopeID(instanceID string) string {
	return TemplateIDPrefix + instanceID
}

// At-rules whose blocks hold something other than style rules.
var unscopedAtRules = map[string]bool{
	"@font-face":         true,
	"@keyframes":         true,
	"@-webkit-keyframes": true,
	"@-moz-keyframes":    true,
	"@page":              true,
}

// ScopeStyles prefixes every selector of the <style> blocks in markup with
// #scopeID so that template styles only apply inside the template. Blocks
// that cannot be parsed are left as they are.
func ScopeStyles(markup, scopeID string) string {
	if !strings.Contains(strings.ToLower(markup), "<style") {
		return markup
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	inStyle := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String()
		}
		raw := string(z.Raw())
		switch tt {
		case html.StartTagToken:
			inStyle = tagIs(z, "style")
		case html.EndTagToken:
			inStyle = false
		case html.TextToken:
			if inStyle {
				raw = scopeStylesheet(raw, "#"+scopeID)
			}
		}
		b.WriteString(raw)
	}
}

func tagIs(z *html.Tokenizer, name string) bool {
	tag, _ := z.TagName()
	return string(tag) == name
}

func scopeStylesheet(source, prefix string) string {
	sheet, err := parser.Parse(source)
	if err != nil {
		return source
	}
	scopeRules(sheet.Rules, prefix)
	return "\n" + sheet.String() + "\n"
}

func scopeRules(rules []*css.Rule, prefix string) {
	for _, rule := range rules {
		if rule.Kind == css.AtRule {
			if !unscopedAtRules[strings.ToLower(rule.Name)] {
				scopeRules(rule.Rules, prefix)
			}
			continue
		}
		for i, sel := range rule.Selectors {
			rule.Selectors[i] = scopeSelector(sel, prefix)
		}
	}
}

func scopeSelector(sel, prefix string) string {
	sel = strings.TrimSpace(sel)
	switch {
	case sel == "":
		return sel
	case strings.HasPrefix(sel, prefix):
		return sel
	case sel == "html" || sel == "body" || sel == ":root":
		return prefix
	}
	return prefix + " " + sel
}
