// Package sanitizer removes unsafe markup from rendered templates before
// they reach the page.
//
// The base policy admits the tags and attributes templates commonly use,
// whole-document tags and <style> blocks included. Custom elements found in
// the markup (any tag of the form word-word) are admitted for that call
// together with their attributes, except those starting with "on".
package sanitizer

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oxtoacart/bpool"
	"golang.org/x/net/html"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

var (
	customElement = regexp.MustCompile(`^\w+(-\w+)+$`)
	allowedScheme = regexp.MustCompile(`(?i)^(?:(?:f|ht)tps?|mailto|tel|callto|cid|xmpp|xxx|ms-\w+)$`)
)

// Options configures a Sanitizer.
type Options struct {
	// AllowErrorHandlers admits the onerror attribute, which templates use
	// for image fallbacks. It is off unless configured.
	AllowErrorHandlers bool
	Logger             logging.Logger
	// PolicyCacheSize bounds the number of per custom element set policies
	// kept around.
	PolicyCacheSize int64
}

// Sanitizer cleans markup. It is safe for concurrent use.
type Sanitizer struct {
	opts     Options
	logger   logging.Logger
	base     *bluemonday.Policy
	policies *ristretto.Cache
	pool     *bpool.BufferPool
	built    atomic.Int64
}

// New creates a Sanitizer.
func New(opts Options) (*Sanitizer, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.PolicyCacheSize <= 0 {
		opts.PolicyCacheSize = 256
	}
	policies, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        opts.PolicyCacheSize * 10,
		MaxCost:            opts.PolicyCacheSize,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sanitizer{
		opts:     opts,
		logger:   opts.Logger.WithComponent("sanitizer"),
		base:     basePolicy(opts.AllowErrorHandlers),
		policies: policies,
		pool:     bpool.NewBufferPool(64),
	}, nil
}

// Close releases the policy cache.
func (s *Sanitizer) Close() {
	s.policies.Close()
}

func basePolicy(allowErrorHandlers bool) *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AllowStyling()
	p.AllowDataAttributes()
	p.AllowUnsafe(true)
	p.AllowElements("html", "head", "body", "style", "section", "article", "header", "footer", "nav", "main", "figure", "figcaption", "time", "mark")
	p.AllowAttrs("style", "id", "role", "tabindex", "hidden").Globally()
	p.AllowAttrs("target", "loading").Globally()
	p.AllowAttrs("type", "media").OnElements("style")
	p.AllowURLSchemesMatching(allowedScheme)
	p.AllowRelativeURLs(true)
	if allowErrorHandlers {
		p.AllowAttrs("onerror").Globally()
	}
	return p
}

// Sanitize returns markup with disallowed tags, attributes and URLs
// removed.
func (s *Sanitizer) Sanitize(markup string) string {
	policy := s.policyFor(CustomElements(markup))

	buf := s.pool.Get()
	defer s.pool.Put(buf)
	if err := policy.SanitizeReaderToWriter(strings.NewReader(markup), buf); err != nil {
		s.logger.Warn(context.Background(), err, "Sanitization failed")
		return ""
	}
	return buf.String()
}

// Elements lists the custom elements found in markup and the attributes
// admitted for each.
type Elements map[string][]string

func (el Elements) signature() string {
	tags := make([]string, 0, len(el))
	for tag := range el {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var b strings.Builder
	for _, tag := range tags {
		b.WriteString(tag)
		b.WriteByte('[')
		b.WriteString(strings.Join(el[tag], ","))
		b.WriteString("];")
	}
	return b.String()
}

// CustomElements inspects markup in two passes: every tag shaped like a
// custom element is recorded, then every attribute seen on a recorded tag
// is admitted unless its name starts with "on".
func CustomElements(markup string) Elements {
	found := make(Elements)
	seen := make(map[string]map[string]bool)

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if !customElement.MatchString(tok.Data) {
			continue
		}
		attrs, ok := seen[tok.Data]
		if !ok {
			attrs = make(map[string]bool)
			seen[tok.Data] = attrs
			found[tok.Data] = nil
		}
		for _, a := range tok.Attr {
			name := strings.ToLower(a.Key)
			if strings.HasPrefix(name, "on") || attrs[name] {
				continue
			}
			attrs[name] = true
			found[tok.Data] = append(found[tok.Data], name)
		}
	}

	for tag := range found {
		sort.Strings(found[tag])
	}
	return found
}

// policyFor returns the base policy extended with the custom elements.
func (s *Sanitizer) policyFor(elements Elements) *bluemonday.Policy {
	if len(elements) == 0 {
		return s.base
	}
	key := elements.signature()
	if v, ok := s.policies.Get(key); ok {
		if p, ok := v.(*bluemonday.Policy); ok {
			return p
		}
	}

	s.built.Add(1)
	p := basePolicy(s.opts.AllowErrorHandlers)
	for tag, attrs := range elements {
		p.AllowElements(tag)
		p.AllowNoAttrs().OnElements(tag)
		if len(attrs) > 0 {
			p.AllowAttrs(attrs...).OnElements(tag)
		}
	}
	s.policies.Set(key, p, 1)
	s.policies.Wait()
	return p
}
