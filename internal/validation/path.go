package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateTemplatePath validates a template path relative to the templates
// directory. Absolute paths, URLs of any scheme and paths escaping the
// directory are rejected.
func ValidateTemplatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	if scheme, ok := schemeOf(p); ok {
		return fmt.Errorf("scheme %q not allowed in template path: %s", scheme, p)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}

	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}
	return nil
}

// schemeOf returns the URL scheme p starts with, if any. A scheme is a
// letter followed by letters, digits, '+', '-' or '.', ending in ':'
// before any path separator.
func schemeOf(p string) (string, bool) {
	i := strings.IndexByte(p, ':')
	if i < 1 {
		return "", false
	}
	for j, r := range p[:i] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return "", false
		}
	}
	return strings.ToLower(p[:i]), true
}

// ValidateLocation validates a template location: an http or https URL or
// a path below the templates directory. Other schemes, file: included, are
// rejected.
func ValidateLocation(location string) error {
	if IsRemote(location) {
		return ValidateURL(location)
	}
	return ValidateTemplatePath(location)
}

// ValidateFileExtension checks filename against the allowed extensions,
// ignoring case.
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}
	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("file extension '%s' is not allowed", ext)
}
