package templating

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/validation"
)

// Validation messages returned by IsValidTemplateFile.
const (
	ErrorTemplateExtension = "The template is not valid, please select a file with .htm or .html extension."
	ErrorTemplateResolve   = "Unable to resolve the specified template. Error details: '%v'"
)

// DefaultTemplateExtensions are the accepted template file extensions.
var DefaultTemplateExtensions = []string{".htm", ".html"}

// IsValidTemplateFile checks a template file path. It returns an empty
// string when the path is empty or valid, and a message otherwise.
func (e *Engine) IsValidTemplateFile(ctx context.Context, path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if !e.hasTemplateExtension(path) {
		return ErrorTemplateExtension
	}
	if e.opts.Fetcher == nil {
		return ""
	}
	if err := e.opts.Fetcher.Head(ctx, path); err != nil {
		return fmt.Sprintf(ErrorTemplateResolve, err)
	}
	return ""
}

func (e *Engine) hasTemplateExtension(location string) bool {
	allowed := e.opts.TemplateExtensions
	if len(allowed) == 0 {
		allowed = DefaultTemplateExtensions
	}
	return validation.ValidateFileExtension(strings.TrimSpace(location), allowed) == nil
}

// TemplateContent returns the content of the template file at path, or
// inline when no path is set.
func (e *Engine) TemplateContent(ctx context.Context, inline, path string) (string, error) {
	if path == "" {
		return inline, nil
	}
	if e.opts.Fetcher == nil {
		return "", fmt.Errorf("no fetcher configured to read %s", path)
	}
	return e.opts.Fetcher.FetchText(ctx, path)
}

// TemplateMarkup returns the markup of the #template element of a full
// template, or the whole content when there is none.
func TemplateMarkup(content string) string {
	if inner, ok := elementMarkup(content, "template"); ok {
		return inner
	}
	return content
}

// PlaceholderMarkup returns the markup of the #placeholder element, if any.
func PlaceholderMarkup(content string) (string, bool) {
	return elementMarkup(content, "placeholder")
}

// elementMarkup returns the inner markup of the element with the given id.
// Escaped ">" are restored so partial calls survive the round trip.
func elementMarkup(content, id string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", false
	}
	n := findByID(doc, id)
	if n == nil {
		return "", false
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(&b, c)
	}
	inner := b.String()
	if inner == "" {
		return "", false
	}
	return strings.ReplaceAll(inner, "&gt;", ">"), true
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

var rawTextElements = setOf("style", "script", "xmp", "iframe", "noembed", "noframes", "plaintext", "noscript")

var voidElements = setOf("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
	"param", "source", "track", "wbr")

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "\u00a0", "&nbsp;")
)

// writeNode serializes n the way browsers serialize innerHTML, which leaves
// quotes in text untouched.
func writeNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if n.Parent != nil && rawTextElements[n.Parent.Data] {
			b.WriteString(n.Data)
		} else {
			b.WriteString(textEscaper.Replace(n.Data))
		}
	case html.CommentNode:
		b.WriteString("<!--" + n.Data + "-->")
	case html.DoctypeNode:
		b.WriteString("<!DOCTYPE " + n.Data + ">")
	case html.ElementNode:
		b.WriteString("<" + n.Data)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			if a.Namespace != "" {
				b.WriteString(a.Namespace + ":")
			}
			b.WriteString(a.Key + `="` + attrEscaper.Replace(a.Val) + `"`)
		}
		b.WriteByte('>')
		if voidElements[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(b, c)
		}
		b.WriteString("</" + n.Data + ">")
	}
}
