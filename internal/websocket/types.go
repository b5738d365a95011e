package websocket

import (
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Message types sent to preview pages.
const (
	// MessageReload asks every page to reload its template.
	MessageReload = "reload"
	// MessageRender carries freshly rendered markup for one surface.
	MessageRender = "render"
	// MessageError reports a render failure for one surface.
	MessageError = "error"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OriginValidator decides whether a browser origin may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// OriginFunc adapts a function to OriginValidator.
type OriginFunc func(origin string) bool

func (f OriginFunc) IsAllowedOrigin(origin string) bool { return f(origin) }

// RateLimiter limits the messages a single client may send.
type RateLimiter interface {
	Allow() bool
	Reset()
}

// Client represents a WebSocket client connection
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	lastActivity time.Time
	rateLimiter  RateLimiter
}

// WindowLimiter allows up to Max messages per Window.
type WindowLimiter struct {
	Max    int
	Window time.Duration

	mu    sync.Mutex
	start time.Time
	count int
	now   func() time.Time
}

// NewWindowLimiter creates a limiter allowing max messages per window.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{Max: max, Window: window, now: time.Now}
}

func (l *WindowLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.start) >= l.Window {
		l.start = now
		l.count = 0
	}
	if l.count >= l.Max {
		return false
	}
	l.count++
	return true
}

func (l *WindowLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = time.Time{}
	l.count = 0
}
