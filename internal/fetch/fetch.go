// Package fetch retrieves external template content.
//
// Template files and result type templates may live on a web server or on
// the local disk. A Fetcher hides the difference: FetchText returns the body
// of the resource and Head checks that it resolves without downloading it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/validation"
)

// ErrNotFound is returned when the resource does not exist.
var ErrNotFound = errors.New("resource not found")

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps the size of a fetched template.
const maxBodySize = 4 << 20

// Fetcher retrieves text resources by URL or path.
type Fetcher interface {
	FetchText(ctx context.Context, location string) (string, error)
	Head(ctx context.Context, location string) error
}

// HTTPFetcher fetches http and https URLs.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// FetchText implements Fetcher.
func (f *HTTPFetcher) FetchText(ctx context.Context, location string) (string, error) {
	resp, err := f.do(ctx, http.MethodGet, location)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", location, err)
	}
	return string(body), nil
}

// Head implements Fetcher.
func (f *HTTPFetcher) Head(ctx context.Context, location string) error {
	resp, err := f.do(ctx, http.MethodHead, location)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (f *HTTPFetcher) do(ctx context.Context, method, location string) (*http.Response, error) {
	if err := validation.ValidateURL(location); err != nil {
		return nil, fmt.Errorf("invalid template URL %s: %w", location, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request for %s: %w", location, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", location, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("request to %s failed: %s", location, resp.Status)
	}
	return resp, nil
}

// FileFetcher reads files below a root directory.
type FileFetcher struct {
	root string
}

// NewFileFetcher creates a FileFetcher. Locations are resolved against
// root and may not leave it. With an empty root any path is read as is.
func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: root}
}

// FetchText implements Fetcher.
func (f *FileFetcher) FetchText(ctx context.Context, location string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := f.resolve(location)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return "", fmt.Errorf("failed to read %s: %w", location, err)
	}
	return string(data), nil
}

// Head implements Fetcher.
func (f *FileFetcher) Head(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.resolve(location)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", location)
	}
	return nil
}

// Path returns the file system path location refers to.
func (f *FileFetcher) Path(location string) (string, error) {
	return f.resolve(location)
}

func (f *FileFetcher) resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty location")
	}
	if strings.HasPrefix(strings.ToLower(location), "file:") {
		return "", fmt.Errorf("file URLs are not supported: %s", location)
	}
	if f.root == "" {
		return filepath.Clean(location), nil
	}
	if filepath.IsAbs(location) || filepath.VolumeName(location) != "" {
		return "", fmt.Errorf("absolute location %s not allowed below %s", location, f.root)
	}
	path := filepath.Join(f.root, location)
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("location %s escapes %s", location, f.root)
	}
	return path, nil
}

// Router dispatches http and https URLs to one fetcher and everything else
// to another.
type Router struct {
	Web   Fetcher
	Local Fetcher
}

// NewRouter creates a Router over an HTTPFetcher and a FileFetcher rooted
// at dir.
func NewRouter(timeout time.Duration, dir string) *Router {
	return &Router{Web: NewHTTPFetcher(timeout), Local: NewFileFetcher(dir)}
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	return validation.IsRemote(location)
}

func (r *Router) pick(location string) Fetcher {
	if IsRemote(location) {
		return r.Web
	}
	return r.Local
}

// FetchText implements Fetcher.
func (r *Router) FetchText(ctx context.Context, location string) (string, error) {
	return r.pick(location).FetchText(ctx, location)
}

// Head implements Fetcher.
func (r *Router) Head(ctx context.Context, location string) error {
	return r.pick(location).Head(ctx, location)
}
