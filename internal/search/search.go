// Package search provides the built-in data sources: the classic SharePoint
// search service ("sp") and Microsoft Search through the Graph API
// ("graph"). Both are advertised as SearchDatasource descriptors so they
// are resolved exactly like data sources contributed by extensibility
// libraries.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
)

// Names of the built-in data sources.
const (
	SharePointDatasourceName = "sp"
	GraphDatasourceName      = "graph"
)

// TokenSource returns a bearer token for outgoing requests.
type TokenSource func(ctx context.Context) (string, error)

// Environment carries what a data source needs to reach its backend.
type Environment struct {
	SiteURL string
	Client  *http.Client
	Token   TokenSource
}

// Configurable data sources accept their configuration after
// construction.
type Configurable interface {
	Configure(cfg extension.SearchConfiguration, env Environment)
}

// Builtin returns the descriptors of the built-in data sources.
func Builtin() []extension.Descriptor {
	return []extension.Descriptor{
		{
			Name:        SharePointDatasourceName,
			DisplayName: "SharePoint",
			Description: "Uses the classic SharePoint Search service.",
			Icon:        "SharepointLogo",
			Class:       NewSharePointService,
			Kind:        extension.KindSearchDatasource,
		},
		{
			Name:        GraphDatasourceName,
			DisplayName: "Microsoft Search",
			Description: "Uses the Graph API for Microsoft Search.",
			Icon:        "WindowsLogo",
			Class:       NewGraphService,
			Kind:        extension.KindSearchDatasource,
		},
	}
}

// Resolve creates the data source called name. Built-in data sources take
// precedence over descriptors contributed by libraries.
func Resolve(name string, contributed []extension.Descriptor, cfg extension.SearchConfiguration, env Environment) (extension.SearchService, error) {
	for _, d := range append(Builtin(), contributed...) {
		if d.Name != name {
			continue
		}
		svc, err := extension.CreateAs[extension.SearchService](d)
		if err != nil {
			return nil, apperrors.NewExtensionError(apperrors.ErrCodeInstantiate, "failed to create data source", err).
				WithContext("datasource", name)
		}
		if c, ok := svc.(Configurable); ok {
			c.Configure(cfg, env)
		}
		return svc, nil
	}
	return nil, apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown data source %q", name))
}

// base holds the state shared by the built-in data sources.
type base struct {
	mu          sync.RWMutex
	cfg         extension.SearchConfiguration
	env         Environment
	ext         *extension.Context
	useOldIcons bool
}

func (b *base) Configure(cfg extension.SearchConfiguration, env Environment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if env.Client == nil {
		env.Client = &http.Client{Timeout: 30 * time.Second}
	}
	b.cfg = cfg
	b.env = env
}

func (b *base) SetContext(ctx *extension.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ext = ctx
	if b.env.SiteURL == "" && ctx != nil {
		b.env.SiteURL = ctx.Host.SiteURL
	}
}

func (b *base) Configuration() extension.SearchConfiguration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *base) environment() Environment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env := b.env
	if env.Client == nil {
		env.Client = http.DefaultClient
	}
	return env
}

func (b *base) UseOldIcons() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.useOldIcons
}

func (b *base) SetUseOldIcons(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.useOldIcons = v
}

// hashKey fingerprints the configuration so callers can tell whether two
// services would issue the same queries.
func (b *base) hashKey(name string) string {
	cfg := b.Configuration()
	data, err := json.Marshal(cfg)
	if err != nil {
		return name
	}
	return fmt.Sprintf("%s-%016x", name, xxhash.Sum64(data))
}

// modifyQuery runs the configured query modifier, if any.
func (b *base) modifyQuery(ctx context.Context, queryText string) (string, error) {
	modifier := b.Configuration().QueryModifier
	if modifier == nil {
		return queryText, nil
	}
	return modifier.ModifyQuery(ctx, queryText)
}

func resultsCount(cfg extension.SearchConfiguration) int {
	if cfg.ResultsCount <= 0 {
		return 10
	}
	return cfg.ResultsCount
}

func doJSON(ctx context.Context, env Environment, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("invalid request for %s: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if env.Token != nil {
		token, err := env.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request to %s failed: %s: %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
