package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/fetch"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/render"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/sanitizer"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/templating"
	ws "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/websocket"
)

const cardTemplate = `<content id="template">{{#each data.items}}<p class="card">{{Title}}</p>{{/each}}</content>`

type testEnv struct {
	dir      string
	server   *Server
	surfaces *render.Surfaces
	assets   *Assets
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "cards.html", cardTemplate)
	writeFile(t, dir, "cards.json", `{"data":{"items":[{"Title":"First"},{"Title":"Second"}]}}`)
	writeFile(t, dir, "nested/list.htm", `<ul><li>{{data.totalItemsCount}}</li></ul>`)
	writeFile(t, dir, ".hidden/skip.html", `hidden`)
	writeFile(t, dir, "notes.txt", `not a template`)

	assets := NewAssets(nil, nil)
	engine, err := templating.New(templating.Options{
		Fetcher:      fetch.NewFileFetcher(dir),
		Dependencies: assets,
		Location:     time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	san, err := sanitizer.New(sanitizer.Options{})
	require.NoError(t, err)
	t.Cleanup(san.Close)

	surfaces := render.NewSurfaces(engine, san, nil)
	catalog := func(kind extension.Kind) []extension.Descriptor {
		all := []extension.Descriptor{
			{Name: "sp", DisplayName: "SharePoint", Kind: extension.KindSearchDatasource},
			{Name: "pnp-card", DisplayName: "Card", Kind: extension.KindWebComponent},
		}
		if kind == "" {
			return all
		}
		var out []extension.Descriptor
		for _, d := range all {
			if d.Kind == kind {
				out = append(out, d)
			}
		}
		return out
	}

	srv := New(Options{
		Host:      "localhost",
		Port:      8085,
		Dir:       dir,
		Renderer:  surfaces,
		Templates: engine,
		Catalog:   catalog,
		Assets:    assets,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &testEnv{dir: dir, server: srv, surfaces: surfaces, assets: assets}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexListsTemplates(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/preview/cards.html"`)
	assert.Contains(t, body, `href="/preview/nested/list.htm"`)
	assert.NotContains(t, body, "skip.html")
	assert.NotContains(t, body, "notes.txt")
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPreviewRendersWithSampleData(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/preview/cards.html", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<div id="pnp-modern-search-template_cards.html">`)
	assert.Contains(t, body, `<p class="card">First</p><p class="card">Second</p>`)
	assert.Contains(t, body, `new WebSocket`)

	out, ok := env.surfaces.Get("cards.html").Last()
	require.True(t, ok)
	assert.Contains(t, out, "Second")
}

func TestPreviewIncludesCompanionAssets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/preview/cards.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "video.min.js")
	assert.Empty(t, env.assets.Loaded())

	writeFile(t, env.dir, "video.html", `<div class="video-card">{{data.totalItemsCount}}</div>`)
	rec = env.do(t, http.MethodGet, "/preview/video.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	head, _, found := strings.Cut(body, "</head>")
	require.True(t, found)
	assert.Contains(t, head, `<script src="https://vjs.zencdn.net/8.10.0/video.min.js"></script>`)
	assert.Contains(t, head, `<link rel="stylesheet" href="https://vjs.zencdn.net/8.10.0/video-js.css">`)
	assert.NotContains(t, head, "fabric.min.css")
	assert.Equal(t, []templating.Dependency{templating.DependencyVideo}, env.assets.Loaded())
}

func TestAssetsLoad(t *testing.T) {
	ctx := context.Background()
	assets := NewAssets(map[templating.Dependency]Asset{
		templating.DependencyIcons:   {Stylesheets: []string{"/icons.css?v=1&x=2"}},
		templating.DependencyHelpers: {},
	}, nil)

	assert.Empty(t, assets.head())
	require.NoError(t, assets.Load(ctx, templating.DependencyIcons))
	require.NoError(t, assets.Load(ctx, templating.DependencyHelpers))
	require.NoError(t, assets.Load(ctx, templating.DependencyIcons))
	assert.Equal(t, []templating.Dependency{templating.DependencyIcons, templating.DependencyHelpers}, assets.Loaded())
	assert.Equal(t, `<link rel="stylesheet" href="/icons.css?v=1&amp;x=2">`, assets.head())

	err := assets.Load(ctx, templating.DependencyVideo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown companion dependency")

	var none *Assets
	assert.Empty(t, none.head())
}

func TestPreviewDefaultSampleData(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/preview/nested/list.htm", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<ul><li>0</li></ul>")
}

func TestPreviewRejectsBadNames(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		target string
	}{
		{name: "wrong extension", target: "/preview/notes.txt"},
		{name: "missing file", target: "/preview/missing.html"},
		{name: "traversal", target: "/preview/..%2Fsecret.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRenderAPI(t *testing.T) {
	env := newTestEnv(t)
	body := `{"template":"<p onclick=\"x()\">{{#each data.items}}{{this}}{{/each}} {{name}}</p>","context":{"name":"Ada","data":{"items":[1,2,3]}},"instanceId":"abc"}`

	rec := env.do(t, http.MethodPost, "/api/render", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.InstanceID)
	assert.Equal(t, `<div id="pnp-modern-search-template_abc"><p>123 Ada</p></div>`, resp.HTML)
	assert.True(t, resp.Changed)
	assert.True(t, resp.Computed)

	// The same source is served from the surface cache.
	rec = env.do(t, http.MethodPost, "/api/render", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Changed)
	assert.False(t, resp.Computed)
}

func TestRenderAPITemplateURL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/render",
		`{"templateUrl":"cards.html","context":{"data":{"items":[{"Title":"Remote"}]}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.InstanceID)
	assert.Contains(t, resp.HTML, `<p class="card">Remote</p>`)
}

func TestRenderAPIErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "bad extension", body: `{"templateUrl":"notes.txt"}`, status: http.StatusBadRequest},
		{name: "absolute path", body: `{"templateUrl":"/etc/cards.html"}`, status: http.StatusBadRequest},
		{name: "file url", body: `{"templateUrl":"file:///etc/cards.html"}`, status: http.StatusBadRequest},
		{name: "template error", body: `{"template":"{{#each}}"}`, status: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/render", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRenderAPIRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	rec := env.do(t, http.MethodPost, "/api/render", `{"template":"x"}`, header)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExtensionsAPI(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/extensions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []extension.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = env.do(t, http.MethodGet, "/api/extensions?kind=WebComponent", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var components []extension.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &components))
	require.Len(t, components, 1)
	assert.Equal(t, "pnp-card", components[0].Name)
}

func TestValidateAPI(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		path  string
		valid bool
	}{
		{path: "cards.html", valid: true},
		{path: "", valid: true},
		{path: "notes.txt", valid: false},
		{path: "missing.html", valid: false},
		{path: "/etc/cards.html", valid: false},
		{path: "../cards.html", valid: false},
		{path: "file:///etc/cards.html", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/validate?path="+url.QueryEscape(tt.path), "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var resp struct {
				Valid   bool   `json:"valid"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.valid, resp.Valid)
			assert.Equal(t, tt.valid, resp.Message == "")
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())
}

func TestLiveReRender(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return env.server.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	read := func() ws.UpdateMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg ws.UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	writeFile(t, env.dir, "cards.html", `<content id="template"><h2>{{#each data.items}}{{Title}};{{/each}}</h2></content>`)
	env.server.Reload(ctx, []string{"cards.html"})

	msg := read()
	assert.Equal(t, ws.MessageReload, msg.Type)
	assert.Equal(t, "cards.html", msg.Target)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"render","target":"cards.html"}`)))
	msg = read()
	assert.Equal(t, ws.MessageRender, msg.Type)
	assert.Equal(t, "cards.html", msg.Target)
	assert.Contains(t, msg.Content, "<h2>First;Second;</h2>")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"render","target":"missing.html"}`)))
	msg = read()
	assert.Equal(t, ws.MessageError, msg.Type)
	assert.Equal(t, "missing.html", msg.Target)

	writeFile(t, env.dir, "cards.json", `{"data":{"items":[{"Title":"Edited"}]}}`)
	env.server.Reload(ctx, []string{"cards.json"})
	msg = read()
	assert.Equal(t, ws.MessageReload, msg.Type)
	assert.Equal(t, "cards.html", msg.Target)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"render","target":"cards.html"}`)))
	msg = read()
	assert.Equal(t, ws.MessageRender, msg.Type)
	assert.Contains(t, msg.Content, "<h2>Edited;</h2>")
}

func TestPreviewTargets(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, env.dir, "nested/list.json", `{}`)

	assert.Equal(t,
		[]string{"cards.html", "nested/list.htm"},
		env.server.previewTargets([]string{"cards.json", "cards.html", "nested/list.json", "orphan.json"}))
}

func TestListTemplatesMissingDir(t *testing.T) {
	names, err := ListTemplates(filepath.Join(t.TempDir(), "absent"), []string{".html"})
	require.NoError(t, err)
	assert.Empty(t, names)
}

type stubSearch struct {
	extension.SearchService
	results *extension.SearchResults
	err     error
	params  []extension.SearchParams
}

func (s *stubSearch) Search(_ context.Context, params extension.SearchParams) (*extension.SearchResults, error) {
	s.params = append(s.params, params)
	return s.results, s.err
}

func newSearchEnv(t *testing.T, svc extension.SearchService) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.server = New(Options{
		Host:      "localhost",
		Port:      8085,
		Dir:       env.dir,
		Renderer:  env.surfaces,
		Templates: env.server.opts.Templates,
		Search:    svc,
	})
	return env
}

func TestSearchAPI(t *testing.T) {
	svc := &stubSearch{results: &extension.SearchResults{
		QueryKeywords:         "budget",
		RelevantResults:       []map[string]any{{"Title": "Report"}},
		PaginationInformation: extension.PaginationInformation{CurrentPage: 2, TotalRows: 11},
	}}
	env := newSearchEnv(t, svc)

	rec := env.do(t, http.MethodGet, "/api/search?q=budget&page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res extension.SearchResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Report", res.RelevantResults[0]["Title"])
	assert.Equal(t, 11, res.PaginationInformation.TotalRows)
	assert.Equal(t, []extension.SearchParams{{QueryText: "budget", PageNumber: 2}}, svc.params)

	rec = env.do(t, http.MethodGet, "/api/search?q=budget&page=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchAPIErrors(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/api/search?q=x", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env := newSearchEnv(t, &stubSearch{err: errors.New("connection refused")})
	rec = env.do(t, http.MethodGet, "/api/search?q=x", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	env = newSearchEnv(t, &stubSearch{err: apperrors.NotImplemented("Search")})
	rec = env.do(t, http.MethodGet, "/api/search?q=x", "", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRenderAPIWithQuery(t *testing.T) {
	svc := &stubSearch{results: &extension.SearchResults{
		RelevantResults:       []map[string]any{{"Title": "Found"}},
		PaginationInformation: extension.PaginationInformation{TotalRows: 1},
	}}
	env := newSearchEnv(t, svc)

	rec := env.do(t, http.MethodPost, "/api/render",
		`{"template":"<b>{{data.totalItemsCount}}</b>{{#each data.items}}<i>{{Title}}</i>{{/each}}","query":"found"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.HTML, "<b>1</b><i>Found</i>")
	assert.Equal(t, []extension.SearchParams{{QueryText: "found", PageNumber: 1}}, svc.params)
}
