package validation

import (
	"net/url"
	"strings"
	"testing"
)

func FuzzValidateURL(f *testing.F) {
	f.Add("http://localhost:8080/cards.html")
	f.Add("https://example.com/list.html?v=1")
	f.Add("javascript:alert('xss')")
	f.Add("file:///etc/passwd")
	f.Add("http://localhost:8080\r\nHost: malicious.com")
	f.Add("http://")
	f.Add("")

	f.Fuzz(func(t *testing.T, raw string) {
		if ValidateURL(raw) != nil {
			return
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("ValidateURL passed but url.Parse failed for %q", raw)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			t.Errorf("ValidateURL passed for scheme %q", parsed.Scheme)
		}
		if parsed.Host == "" {
			t.Errorf("ValidateURL passed without host: %q", raw)
		}
		if strings.ContainsAny(raw, " \t\r\n\\") {
			t.Errorf("ValidateURL passed with whitespace or backslash: %q", raw)
		}
	})
}

func FuzzValidateTemplatePath(f *testing.F) {
	f.Add("cards.html")
	f.Add("../secret.html")
	f.Add("/etc/passwd")
	f.Add(`a\..\b.html`)
	f.Add("file:///etc/passwd")

	f.Fuzz(func(t *testing.T, p string) {
		if ValidateTemplatePath(p) != nil {
			return
		}
		if strings.HasPrefix(p, "/") {
			t.Errorf("absolute path passed: %q", p)
		}
		if u, err := url.Parse(p); err == nil && u.Scheme != "" {
			t.Errorf("path with scheme %q passed: %q", u.Scheme, p)
		}
		for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
			if part == ".." {
				t.Errorf("traversal passed: %q", p)
			}
		}
	})
}
