package templating

import (
	"encoding/json"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aymerick/raymond"
	"github.com/dustin/go-humanize"
)

// libraryHelpers returns the extended helper library, loaded the first
// time a template refers to one of its helpers.
func (e *Engine) libraryHelpers() map[string]any {
	return map[string]any{
		"moment": e.momentHelper,

		// strings
		"uppercase":        func(s any) string { return strings.ToUpper(str(s)) },
		"lowercase":        func(s any) string { return strings.ToLower(str(s)) },
		"capitalize":       func(s any) string { return capitalize(str(s)) },
		"capitalizeAll":    func(s any) string { return titleCaser.String(str(s)) },
		"titleize":         func(s any) string { return titleCaser.String(strings.Join(words(str(s)), " ")) },
		"camelcase":        func(s any) string { return camelCase(strings.Join(words(str(s)), "-")) },
		"pascalcase":       func(s any) string { return capitalize(camelCase(strings.Join(words(str(s)), "-"))) },
		"dashcase":         func(s any) string { return joinWords(str(s), "-") },
		"hyphenate":        func(s any) string { return strings.Join(strings.Fields(str(s)), "-") },
		"snakecase":        func(s any) string { return joinWords(str(s), "_") },
		"dotcase":          func(s any) string { return joinWords(str(s), ".") },
		"pathcase":         func(s any) string { return joinWords(str(s), "/") },
		"plusify":          func(s any) string { return strings.ReplaceAll(str(s), " ", "+") },
		"trim":             func(s any) string { return strings.TrimSpace(str(s)) },
		"reverse":          reverse,
		"replace":          func(s, a, b any) string { return strings.ReplaceAll(str(s), str(a), str(b)) },
		"split":            func(s, sep any) []string { return strings.Split(str(s), str(sep)) },
		"occurrences":      func(s, sub any) int { return occurrences(str(s), str(sub)) },
		"truncate":         func(s, n any) string { return truncate(str(s), n, "") },
		"ellipsis":         func(s, n any) string { return truncate(str(s), n, "…") },
		"isString":         func(v any) bool { _, ok := v.(string); return ok },
		"encodeURI":        func(s any) string { return strings.ReplaceAll(url.QueryEscape(str(s)), "+", "%20") },
		"decodeURI":        decodeURI,
		"stripProtocol":    stripProtocol,
		"stripQuerystring": func(s any) string { return strings.SplitN(str(s), "?", 2)[0] },

		// arrays
		"first":   func(list any) any { return itemAt(list, 0) },
		"last":    func(list any) any { return itemAt(list, -1) },
		"itemAt":  func(list, idx any) any { n, _ := toNumber(idx); return itemAt(list, int(n)) },
		"length":  length,
		"join":    join,
		"isArray": func(v any) bool { _, ok := toSlice(v); return ok },
		"inArray": inArray,
		"sort":    sortList,

		// math
		"add":      arith(func(a, b float64) float64 { return a + b }),
		"subtract": arith(func(a, b float64) float64 { return a - b }),
		"multiply": arith(func(a, b float64) float64 { return a * b }),
		"divide":   divide,
		"floor":    func(n any) float64 { f, _ := toNumber(n); return math.Floor(f) },
		"ceil":     func(n any) float64 { f, _ := toNumber(n); return math.Ceil(f) },
		"round":    func(n any) float64 { f, _ := toNumber(n); return math.Round(f) },
		"toInt":    func(n any) int { f, _ := toNumber(n); return int(f) },
		"toFloat":  func(n any) float64 { f, _ := toNumber(n); return f },
		"toFixed":  toFixed,
		"addCommas": func(n any) string {
			f, ok := toNumber(n)
			if !ok {
				return str(n)
			}
			return humanize.Commaf(f)
		},
		"fileSize": func(n any) string {
			f, ok := toNumber(n)
			if !ok || f < 0 {
				return str(n)
			}
			return humanize.Bytes(uint64(f))
		},

		// logic
		"and":     logic(func(a, b bool) bool { return a && b }),
		"or":      logic(func(a, b bool) bool { return a || b }),
		"neither": logic(func(a, b bool) bool { return !a && !b }),
		"isEmpty": func(v any) bool { return isEmptyValue(v) },
		"default": func(v, fallback any) any {
			if isEmptyValue(v) {
				return fallback
			}
			return v
		},

		// objects
		"JSONstringify": func(v any) string { return jsonAttr(v) },
		"JSONparse":     parseJSON,
		"parseJSON":     parseJSON,
		"get":           func(path string, obj any) any { return lookupPath(obj, path) },
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// words splits s on separators and lower-to-upper case transitions.
func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return out
}

func joinWords(s, sep string) string {
	parts := words(s)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, sep)
}

func reverse(s any) string {
	r := []rune(str(s))
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func occurrences(s, sub string) int {
	if sub == "" {
		return 0
	}
	return strings.Count(s, sub)
}

// truncate cuts s to n runes, the suffix included.
func truncate(s string, n any, suffix string) string {
	limit, ok := toNumber(n)
	if !ok || limit < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= int(limit) {
		return s
	}
	keep := int(limit) - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + suffix
}

func decodeURI(s any) string {
	decoded, err := url.PathUnescape(str(s))
	if err != nil {
		return str(s)
	}
	return decoded
}

func stripProtocol(s any) string {
	value := str(s)
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" {
		return value
	}
	u.Scheme = ""
	return u.String()
}

func itemAt(list any, idx int) any {
	items, ok := toSlice(list)
	if !ok || len(items) == 0 {
		return nil
	}
	if idx < 0 {
		idx += len(items)
	}
	if idx < 0 || idx >= len(items) {
		return nil
	}
	return items[idx]
}

func length(v any) int {
	if items, ok := toSlice(v); ok {
		return len(items)
	}
	switch s := v.(type) {
	case string:
		return utf8.RuneCountInString(s)
	case map[string]any:
		return len(s)
	}
	return 0
}

// join concatenates list elements. Usage: {{join tags ", "}}
func join(list, sep any) string {
	items, ok := toSlice(list)
	if !ok {
		return str(list)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = str(item)
	}
	return strings.Join(parts, str(sep))
}

// inArray renders its block when value is an element of list.
// Usage: {{#inArray tags "news"}}...{{else}}...{{/inArray}}
func inArray(list, value any, options *raymond.Options) raymond.SafeString {
	if items, ok := toSlice(list); ok {
		for _, item := range items {
			if strictEqual(item, value) {
				return raymond.SafeString(options.Fn())
			}
		}
	}
	return raymond.SafeString(options.Inverse())
}

func sortList(list any) []any {
	items, ok := toSlice(list)
	if !ok {
		return nil
	}
	sorted := append([]any(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return compare(sorted[i], sorted[j]) < 0 })
	return sorted
}

func arith(op func(a, b float64) float64) func(a, b any) any {
	return func(a, b any) any {
		x, okA := toNumber(a)
		y, okB := toNumber(b)
		if !okA || !okB {
			return ""
		}
		return op(x, y)
	}
}

func divide(a, b any) any {
	x, okA := toNumber(a)
	y, okB := toNumber(b)
	if !okA || !okB || y == 0 {
		return ""
	}
	return x / y
}

// toFixed formats n with digits decimals. Usage: {{toFixed price 2}}
func toFixed(n, digits any) string {
	f, ok := toNumber(n)
	if !ok {
		return str(n)
	}
	d, _ := toNumber(digits)
	return strconv.FormatFloat(f, 'f', int(d), 64)
}

// logic turns a boolean combination into a block helper. Usage:
// {{#and a b}}both{{else}}not both{{/and}}
func logic(combine func(a, b bool) bool) func(a, b any, options *raymond.Options) raymond.SafeString {
	return func(a, b any, options *raymond.Options) raymond.SafeString {
		if combine(raymond.IsTrue(a), raymond.IsTrue(b)) {
			return raymond.SafeString(options.Fn())
		}
		return raymond.SafeString(options.Inverse())
	}
}

func parseJSON(s any) any {
	var v any
	if err := json.Unmarshal([]byte(str(s)), &v); err != nil {
		return nil
	}
	return v
}
