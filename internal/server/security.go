package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/MakingThingsWorkToronto/pnp-modern-search/internal/errors"
	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

// SecurityConfig holds the headers and origin rules applied to every
// response.
type SecurityConfig struct {
	CSP            *CSPConfig
	XFrameOptions  string
	ReferrerPolicy string
	// AllowedOrigins may issue state changing requests and open the live
	// reload socket. Same-host origins are always allowed.
	AllowedOrigins []string
	Logger         logging.Logger
}

// CSPConfig lists the Content-Security-Policy directives.
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	ConnectSrc     []string
	FontSrc        []string
	ObjectSrc      []string
	FrameAncestors []string
	BaseURI        []string
	FormAction     []string
}

// DefaultSecurityConfig returns the policy for the preview server. Rendered
// templates may embed inline styles and scripts registered as web components,
// so inline sources stay allowed.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'", "'unsafe-inline'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'"},
			ImgSrc:         []string{"'self'", "data:", "blob:", "https:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			FontSrc:        []string{"'self'", "data:"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'none'"},
			BaseURI:        []string{"'self'"},
			FormAction:     []string{"'self'"},
		},
		XFrameOptions:  "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}
}

// SecurityMiddleware applies security headers and rejects cross-origin
// state changing requests.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DefaultSecurityConfig()
	}
	logger := secConfig.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applySecurityHeaders(w, secConfig)

			if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
				if !isValidOrigin(r, secConfig.AllowedOrigins) {
					logger.Warn(r.Context(),
						apperrors.NewValidationError("INVALID_ORIGIN", "invalid origin in request"),
						"Security: Invalid origin",
						"origin", r.Header.Get("Origin"),
						"referer", r.Header.Get("Referer"),
						"ip", r.RemoteAddr)
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applySecurityHeaders(w http.ResponseWriter, config *SecurityConfig) {
	h := w.Header()
	if config.CSP != nil {
		if csp := buildCSPHeader(config.CSP); csp != "" {
			h.Set("Content-Security-Policy", csp)
		}
	}
	if config.XFrameOptions != "" {
		h.Set("X-Frame-Options", config.XFrameOptions)
	}
	if config.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", config.ReferrerPolicy)
	}
	h.Set("X-Content-Type-Options", "nosniff")
}

func buildCSPHeader(csp *CSPConfig) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("script-src", csp.ScriptSrc)
	addDirective("style-src", csp.StyleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("connect-src", csp.ConnectSrc)
	addDirective("font-src", csp.FontSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)
	addDirective("form-action", csp.FormAction)

	return strings.Join(directives, "; ")
}

// isValidOrigin accepts requests from the server's own host, from the
// allowed origins, and from non-browser clients that send neither Origin
// nor Referer.
func isValidOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		referer := r.Header.Get("Referer")
		if referer == "" {
			return true
		}
		refererURL, err := url.Parse(referer)
		if err != nil || refererURL.Host == "" {
			return false
		}
		origin = fmt.Sprintf("%s://%s", refererURL.Scheme, refererURL.Host)
	}
	return originAllowed(origin, r.Host, allowedOrigins)
}

func originAllowed(origin, host string, allowedOrigins []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}
