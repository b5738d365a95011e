// Package server implements the template preview server: a chi router
// serving rendered templates, a JSON render API and a websocket that
// re-renders open previews when template files change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/extension"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/render"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/templating"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/validation"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/websocket"
)

const maxRenderBody = 1 << 20

// Renderer renders templates into per-instance surfaces.
type Renderer interface {
	Render(ctx context.Context, instanceID string, data any, source string) (render.Result, error)
	ForgetAll()
}

// Templates reads and validates template files.
type Templates interface {
	TemplateContent(ctx context.Context, inline, path string) (string, error)
	IsValidTemplateFile(ctx context.Context, path string) string
}

// Catalog lists the registered extensions of kind, or all of them when
// kind is empty.
type Catalog func(kind extension.Kind) []extension.Descriptor

// Options configures a Server.
type Options struct {
	Host string
	Port int
	// Dir is the templates directory listed on the index page.
	Dir            string
	Extensions     []string
	AllowedOrigins []string

	Renderer  Renderer
	Templates Templates
	Catalog   Catalog

	// Search answers /api/search and render requests carrying a query.
	// Nil disables both.
	Search extension.SearchService
	// Assets adds the loaded companion dependencies to preview pages.
	Assets *Assets
	Logger logging.Logger
}

// Server is the preview HTTP server.
type Server struct {
	opts   Options
	logger logging.Logger
	errs   *apperrors.ErrorHandler
	router *chi.Mux
	hub    *websocket.WebSocketManager
	http   *http.Server
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = templating.DefaultTemplateExtensions
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.WithComponent("server"),
	}
	s.errs = apperrors.NewErrorHandler(s.logger)
	s.hub = websocket.NewWebSocketManager(websocket.Options{
		Origins: websocket.OriginFunc(func(origin string) bool {
			return originAllowed(origin, s.Addr(), opts.AllowedOrigins)
		}),
		NewLimiter: func() websocket.RateLimiter { return websocket.NewWindowLimiter(20, time.Second) },
		OnMessage:  s.handleSocketMessage,
		Logger:     opts.Logger,
	})

	sec := DefaultSecurityConfig()
	sec.AllowedOrigins = opts.AllowedOrigins
	sec.Logger = s.logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityMiddleware(sec))

	r.Get("/", s.handleIndex)
	r.Get("/preview/*", s.handlePreview)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.hub.HandleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Post("/render", s.handleRender)
		r.Get("/extensions", s.handleExtensions)
		r.Get("/validate", s.handleValidate)
		r.Get("/search", s.handleSearch)
	})
	s.router = r
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Preview server listening", "addr", s.Addr())
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes the live reload sockets and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	hubErr := s.hub.Shutdown(ctx)
	if s.http == nil {
		return hubErr
	}
	return errors.Join(hubErr, s.http.Shutdown(ctx))
}

// Reload forgets every rendered surface and tells open previews of the
// changed templates to re-render. A changed sample data file reloads the
// templates it belongs to.
func (s *Server) Reload(ctx context.Context, locations []string) {
	s.opts.Renderer.ForgetAll()
	for _, location := range s.previewTargets(locations) {
		s.logger.Debug(ctx, "Template changed, notifying previews", "template", location)
		s.hub.BroadcastMessage(websocket.UpdateMessage{Type: websocket.MessageReload, Target: location})
	}
}

// previewTargets maps changed locations to preview names: templates stand
// for themselves, <name>.json stands for every <name> template next to it.
func (s *Server) previewTargets(locations []string) []string {
	seen := make(map[string]bool, len(locations))
	targets := make([]string, 0, len(locations))
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			targets = append(targets, name)
		}
	}
	for _, location := range locations {
		if !strings.EqualFold(path.Ext(location), ".json") {
			add(location)
			continue
		}
		stem := strings.TrimSuffix(location, path.Ext(location))
		for _, ext := range s.opts.Extensions {
			name := stem + ext
			if _, err := os.Stat(filepath.Join(s.opts.Dir, filepath.FromSlash(name))); err == nil {
				add(name)
			}
		}
	}
	return targets
}

// Clients returns the number of connected previews.
func (s *Server) Clients() int {
	return s.hub.GetConnectedClients()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	names, err := ListTemplates(s.opts.Dir, s.opts.Extensions)
	if err != nil {
		s.logger.Error(r.Context(), err, "Failed to list templates", "dir", s.opts.Dir)
		http.Error(w, "failed to list templates", http.StatusInternalServerError)
		return
	}
	templ.Handler(indexPage(s.opts.Dir, names)).ServeHTTP(w, r)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if msg := s.checkName(r.Context(), name); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	markup, err := s.renderNamed(r.Context(), name)
	if err != nil {
		s.errs.Handle(r.Context(), err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	templ.Handler(previewPage(name, s.opts.Assets.head(), markup)).ServeHTTP(w, r)
}

func (s *Server) checkName(ctx context.Context, name string) string {
	if err := validation.ValidateTemplatePath(name); err != nil {
		return "invalid template name: " + err.Error()
	}
	return s.opts.Templates.IsValidTemplateFile(ctx, name)
}

// renderNamed renders the template file name with its sample data. The
// template name doubles as the surface id so edits re-render in place.
func (s *Server) renderNamed(ctx context.Context, name string) (string, error) {
	content, err := s.opts.Templates.TemplateContent(ctx, "", name)
	if err != nil {
		return "", err
	}
	data, err := s.sampleData(ctx, name)
	if err != nil {
		return "", err
	}
	res, err := s.opts.Renderer.Render(ctx, name, data, templating.TemplateMarkup(content))
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// sampleData loads the JSON file next to the template, e.g. cards.json for
// cards.html. Templates without one render against an empty result set.
func (s *Server) sampleData(ctx context.Context, name string) (any, error) {
	sample := strings.TrimSuffix(name, path.Ext(name)) + ".json"
	raw, err := s.opts.Templates.TemplateContent(ctx, "", sample)
	if err != nil {
		return DefaultSampleData(), nil
	}
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid sample data %s: %w", sample, err)
	}
	return data, nil
}

// SearchContext is the template context for a page of search results.
func SearchContext(res *extension.SearchResults) map[string]any {
	items := make([]any, 0, len(res.RelevantResults))
	for _, item := range res.RelevantResults {
		items = append(items, item)
	}
	return map[string]any{
		"data": map[string]any{
			"items":             items,
			"totalItemsCount":   res.PaginationInformation.TotalRows,
			"secondaryResults":  res.SecondaryResults,
			"refinementResults": res.RefinementResults,
			"queryKeywords":     res.QueryKeywords,
		},
		"properties": map[string]any{},
	}
}

// DefaultSampleData is the context used when a template has no sample
// data file.
func DefaultSampleData() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"items":           []any{},
			"totalItemsCount": 0,
		},
		"properties": map[string]any{},
	}
}

func (s *Server) handleSocketMessage(ctx context.Context, msg websocket.UpdateMessage) {
	if msg.Type != websocket.MessageRender || msg.Target == "" {
		return
	}
	if errMsg := s.checkName(ctx, msg.Target); errMsg != "" {
		s.hub.BroadcastMessage(websocket.UpdateMessage{Type: websocket.MessageError, Target: msg.Target, Content: errMsg})
		return
	}
	markup, err := s.renderNamed(ctx, msg.Target)
	if err != nil {
		s.errs.Handle(ctx, err)
		s.hub.BroadcastMessage(websocket.UpdateMessage{Type: websocket.MessageError, Target: msg.Target, Content: err.Error()})
		return
	}
	s.hub.BroadcastMessage(websocket.UpdateMessage{Type: websocket.MessageRender, Target: msg.Target, Content: markup})
}

// RenderRequest is the body of POST /api/render.
type RenderRequest struct {
	// Template is inline template source. TemplateURL, when set, wins.
	Template    string          `json:"template"`
	TemplateURL string          `json:"templateUrl,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
	// Query, when set without a context, renders the first page of results
	// the configured data source returns for it.
	Query       string          `json:"query,omitempty"`
	InstanceID  string          `json:"instanceId,omitempty"`
}

// RenderResponse is the reply of POST /api/render.
type RenderResponse struct {
	InstanceID string `json:"instanceId"`
	HTML       string `json:"html"`
	Changed    bool   `json:"changed"`
	Computed   bool   `json:"computed"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRenderBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.InstanceID == "" {
		req.InstanceID = uuid.NewString()
	}

	if req.TemplateURL != "" {
		msg := s.opts.Templates.IsValidTemplateFile(r.Context(), req.TemplateURL)
		if err := validation.ValidateLocation(req.TemplateURL); err != nil {
			msg = "invalid template location: " + err.Error()
		}
		if msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	content, err := s.opts.Templates.TemplateContent(r.Context(), req.Template, req.TemplateURL)
	if err != nil {
		// Unreachable external templates fall back to the inline source.
		s.logger.Warn(r.Context(), err, "Failed to read template, using inline source", "template", req.TemplateURL)
		content = req.Template
	}

	var data any = DefaultSampleData()
	switch {
	case len(req.Context) > 0:
		if err := json.Unmarshal(req.Context, &data); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid context: %v", err))
			return
		}
	case req.Query != "":
		res, status, err := s.search(r.Context(), req.Query, 1)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		data = SearchContext(res)
	}

	res, err := s.opts.Renderer.Render(r.Context(), req.InstanceID, data, templating.TemplateMarkup(content))
	if err != nil {
		s.errs.Handle(r.Context(), err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{
		InstanceID: req.InstanceID,
		HTML:       res.Output,
		Changed:    res.Changed,
		Computed:   res.Computed,
	})
}

func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Catalog == nil {
		writeJSON(w, http.StatusOK, []extension.Descriptor{})
		return
	}
	descs := s.opts.Catalog(extension.Kind(r.URL.Query().Get("kind")))
	if descs == nil {
		descs = []extension.Descriptor{}
	}
	writeJSON(w, http.StatusOK, descs)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	var msg string
	if err := validation.ValidateLocation(p); p != "" && err != nil {
		msg = "invalid template location: " + err.Error()
	} else {
		msg = s.opts.Templates.IsValidTemplateFile(r.Context(), p)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    p,
		"valid":   msg == "",
		"message": msg,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid page %q", p))
			return
		}
		page = n
	}
	res, status, err := s.search(r.Context(), r.URL.Query().Get("q"), page)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// search runs query against the data source and maps failures to an HTTP
// status.
func (s *Server) search(ctx context.Context, query string, page int) (*extension.SearchResults, int, error) {
	if s.opts.Search == nil {
		return nil, http.StatusNotFound, errors.New("no data source configured")
	}
	res, err := s.opts.Search.Search(ctx, extension.SearchParams{QueryText: query, PageNumber: page})
	if err != nil {
		s.errs.Handle(ctx, err)
		if apperrors.IsType(err, apperrors.ErrorTypeNotImplemented) {
			return nil, http.StatusNotImplemented, err
		}
		return nil, http.StatusBadGateway, fmt.Errorf("search failed: %w", err)
	}
	return res, http.StatusOK, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.GetConnectedClients(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListTemplates returns the template files under dir, relative to dir with
// forward slashes, sorted. Hidden directories are skipped.
func ListTemplates(dir string, extensions []string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if validation.ValidateFileExtension(d.Name(), extensions) != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(names)
	return names, err
}
