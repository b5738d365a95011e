package templating

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLibraryHelpers(t *testing.T) {
	e := newTestEngine(t)
	e.ensure(context.Background(), DependencyHelpers)

	data := map[string]any{
		"title": "hello wide world",
		"tags":  []any{"news", "events", "blog"},
		"price": 3.14159,
		"url":   "https://contoso.com/a b?x=1",
		"empty": "",
		"bytes": 1500,
		"big":   1234567,
	}

	tests := []struct {
		source string
		want   string
	}{
		{`{{uppercase title}}`, "HELLO WIDE WORLD"},
		{`{{capitalize title}}`, "Hello wide world"},
		{`{{capitalizeAll title}}`, "Hello Wide World"},
		{`{{camelcase title}}`, "helloWideWorld"},
		{`{{pascalcase title}}`, "HelloWideWorld"},
		{`{{dashcase title}}`, "hello-wide-world"},
		{`{{snakecase title}}`, "hello_wide_world"},
		{`{{truncate title 5}}`, "hello"},
		{`{{reverse "abc"}}`, "cba"},
		{`{{replace title "wide" "small"}}`, "hello small world"},
		{`{{occurrences title "o"}}`, "2"},
		{`{{join tags ", "}}`, "news, events, blog"},
		{`{{first tags}}`, "news"},
		{`{{last tags}}`, "blog"},
		{`{{length tags}}`, "3"},
		{`{{itemAt tags 1}}`, "events"},
		{`{{toFixed price 2}}`, "3.14"},
		{`{{stripProtocol "https://contoso.com/x"}}`, "//contoso.com/x"},
		{`{{stripQuerystring url}}`, "https://contoso.com/a b"},
		{`{{encodeURI "a b&c"}}`, "a%20b%26c"},
		{`{{default empty "fallback"}}`, "fallback"},
		{`{{fileSize bytes}}`, "1.5 kB"},
		{`{{addCommas big}}`, "1,234,567"},
		{`{{#and title tags}}y{{else}}n{{/and}}`, "y"},
		{`{{#or empty missing}}y{{else}}n{{/or}}`, "n"},
		{`{{#inArray tags "blog"}}y{{else}}n{{/inArray}}`, "y"},
		{`{{#if (isEmpty empty)}}y{{else}}n{{/if}}`, "y"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, e, tt.source, data))
		})
	}
}

func TestLibraryDoesNotReplaceBuiltins(t *testing.T) {
	e := newTestEngine(t)
	a := assert.New(t)
	a.True(e.RegisterHelper("uppercase", func(s string) string { return "custom" }))

	e.ensure(context.Background(), DependencyHelpers)
	a.Equal("custom", render(t, e, `{{uppercase "x"}}`, nil))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"hello", "World", "foo", "42"}, words("helloWorld foo_42"))
	assert.Empty(t, words("  "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc…", truncate("abcdef", 4, "…"))
	assert.Equal(t, "abc", truncate("abc", 4, "…"))
	assert.Equal(t, "abcdef", truncate("abcdef", "x", ""))
}

func TestArithmetic(t *testing.T) {
	add := arith(func(a, b float64) float64 { return a + b })
	assert.Equal(t, 5.0, add(2, "3"))
	assert.Equal(t, "", add("x", 1))
	assert.Equal(t, 2.5, divide(5, 2))
	assert.Equal(t, "", divide(1, 0))
}
