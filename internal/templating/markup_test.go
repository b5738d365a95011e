package templating

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/fetch"
)

func TestIsValidTemplateFile(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.Fetcher = stubFetcher{"https://cdn/list.html": "<div/>", "local/card.HTM": "<div/>"}
	})
	ctx := context.Background()

	assert.Equal(t, "", e.IsValidTemplateFile(ctx, ""))
	assert.Equal(t, "", e.IsValidTemplateFile(ctx, "   "))
	assert.Equal(t, ErrorTemplateExtension, e.IsValidTemplateFile(ctx, "https://cdn/list.txt"))
	assert.Equal(t, ErrorTemplateExtension, e.IsValidTemplateFile(ctx, "no-extension"))
	assert.Equal(t, "", e.IsValidTemplateFile(ctx, "https://cdn/list.html"))
	assert.Equal(t, "", e.IsValidTemplateFile(ctx, "local/card.HTM"))
	assert.Equal(t, fmt.Sprintf(ErrorTemplateResolve, fetch.ErrNotFound), e.IsValidTemplateFile(ctx, "https://cdn/missing.html"))
}

func TestIsValidTemplateFileCustomExtensions(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.TemplateExtensions = []string{".hbs"} })
	ctx := context.Background()

	assert.Equal(t, "", e.IsValidTemplateFile(ctx, "card.hbs"))
	assert.Equal(t, ErrorTemplateExtension, e.IsValidTemplateFile(ctx, "card.html"))
}

func TestTemplateContent(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.Fetcher = stubFetcher{"list.html": "<ul/>"} })
	ctx := context.Background()

	content, err := e.TemplateContent(ctx, "<inline/>", "")
	require.NoError(t, err)
	assert.Equal(t, "<inline/>", content)

	content, err = e.TemplateContent(ctx, "<inline/>", "list.html")
	require.NoError(t, err)
	assert.Equal(t, "<ul/>", content)

	_, err = e.TemplateContent(ctx, "", "missing.html")
	assert.ErrorIs(t, err, fetch.ErrNotFound)
}

func TestTemplateMarkup(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "template element",
			content: `<content id="template"><div class="list">{{#> resultTypes}}<span>{{Title}}</span>{{/resultTypes}}</div></content>`,
			want:    `<div class="list">{{#> resultTypes}}<span>{{Title}}</span>{{/resultTypes}}</div>`,
		},
		{
			name:    "quotes in text are kept",
			content: `<content id="template"><p title="a&quot;b">"q" &amp; {{x}}</p><br></content>`,
			want:    `<p title="a&quot;b">"q" &amp; {{x}}</p><br>`,
		},
		{
			name:    "style content is raw",
			content: `<content id="template"><style>.a > .b { color: red }</style></content>`,
			want:    `<style>.a > .b { color: red }</style>`,
		},
		{
			name:    "no template element",
			content: `<div>{{Title}}</div>`,
			want:    `<div>{{Title}}</div>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TemplateMarkup(tt.content))
		})
	}
}

func TestPlaceholderMarkup(t *testing.T) {
	content := `<content id="template"><p>{{Title}}</p></content><content id="placeholder"><div class="shimmer"></div></content>`

	placeholder, ok := PlaceholderMarkup(content)
	require.True(t, ok)
	assert.Equal(t, `<div class="shimmer"></div>`, placeholder)
	assert.Equal(t, `<p>{{Title}}</p>`, TemplateMarkup(content))

	_, ok = PlaceholderMarkup(`<content id="template"></content>`)
	assert.False(t, ok)
}

func TestFindByID(t *testing.T) {
	_, ok := elementMarkup(strings.Repeat("<div>", 50)+`<i id="deep">x</i>`, "deep")
	assert.True(t, ok)
}
