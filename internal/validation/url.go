// Package validation checks template locations before they reach a
// fetcher: remote template URLs and paths below the templates directory.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// ValidateURL validates the URL of a remote template. Only http and https
// URLs with a host are accepted.
func ValidateURL(rawURL string) error {
	if err := checkChars(rawURL); err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	return nil
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// checkChars rejects whitespace and control characters, which never occur
// in a well-formed location and would split request lines.
func checkChars(s string) error {
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control character %q", r)
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("contains whitespace")
		}
	}
	if strings.ContainsRune(s, '\\') {
		return fmt.Errorf("contains backslash")
	}
	return nil
}
