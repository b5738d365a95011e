// Package websocket pushes live re-render notifications to preview pages.
//
// A single hub goroutine owns client registration and broadcasting. Each
// client gets a read pump and a write pump; slow clients whose send buffer
// fills up are dropped rather than blocking the hub.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/logging"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 64
)

// MessageHandler receives messages sent by preview pages.
type MessageHandler func(ctx context.Context, msg UpdateMessage)

// WebSocketManager handles WebSocket connection management and broadcasting.
type WebSocketManager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	newLimiter      func() RateLimiter
	onMessage       MessageHandler
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
	done         chan struct{}
}

// Options configures a WebSocketManager.
type Options struct {
	// Origins validates the Origin header of upgrade requests. Requests
	// without an Origin header are accepted.
	Origins OriginValidator
	// NewLimiter creates the per-client message limiter. Nil disables
	// limiting.
	NewLimiter func() RateLimiter
	// OnMessage is called for every well-formed client message.
	OnMessage MessageHandler
	Logger    logging.Logger
}

// NewWebSocketManager creates a manager and starts its hub.
func NewWebSocketManager(opts Options) *WebSocketManager {
	if opts.Origins == nil {
		opts.Origins = OriginFunc(func(string) bool { return false })
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &WebSocketManager{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: opts.Origins,
		newLimiter:      opts.NewLimiter,
		onMessage:       opts.OnMessage,
		logger:          opts.Logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go manager.runHub()
	return manager
}

// HandleWebSocket upgrades the request and registers the client.
func (wm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if wm.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !wm.originValidator.IsAllowedOrigin(origin) {
		wm.logger.Warn(r.Context(), nil, "WebSocket connection rejected: invalid origin",
			"origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins are validated above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		wm.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		lastActivity: time.Now(),
	}
	if wm.newLimiter != nil {
		client.rateLimiter = wm.newLimiter()
	}

	select {
	case wm.register <- client:
	case <-wm.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		_ = conn.Close(websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go wm.handleClient(client)
}

func (wm *WebSocketManager) runHub() {
	defer close(wm.done)
	for {
		select {
		case client := <-wm.register:
			wm.registerClient(client)

		case conn := <-wm.unregister:
			wm.unregisterClient(conn)

		case message := <-wm.broadcast:
			wm.broadcastToClients(message)

		case <-wm.ctx.Done():
			return
		}
	}
}

func (wm *WebSocketManager) registerClient(client *Client) {
	wm.clientsMutex.Lock()
	wm.clients[client.conn] = client
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	wm.logger.Debug(wm.ctx, "WebSocket client connected", "clients", total)
}

func (wm *WebSocketManager) unregisterClient(conn *websocket.Conn) {
	wm.clientsMutex.Lock()
	client, exists := wm.clients[conn]
	if exists {
		delete(wm.clients, conn)
		close(client.send)
	}
	total := len(wm.clients)
	wm.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wm.logger.Debug(wm.ctx, "WebSocket client disconnected", "clients", total)
	}
}

func (wm *WebSocketManager) broadcastToClients(message []byte) {
	wm.clientsMutex.RLock()
	clients := make([]*Client, 0, len(wm.clients))
	for _, client := range wm.clients {
		clients = append(clients, client)
	}
	wm.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// The hub is the only reader of unregister, so queue it
			// without blocking.
			go wm.drop(client.conn)
		}
	}
}

func (wm *WebSocketManager) drop(conn *websocket.Conn) {
	select {
	case wm.unregister <- conn:
	case <-wm.ctx.Done():
	}
}

func (wm *WebSocketManager) handleClient(client *Client) {
	defer wm.drop(client.conn)

	go wm.writeToClient(client)
	wm.readFromClient(client)
}

func (wm *WebSocketManager) readFromClient(client *Client) {
	for {
		// Dead peers are detected by the write pump's pings.
		_, message, err := client.conn.Read(wm.ctx)

		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				wm.logger.Debug(wm.ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}

		client.lastActivity = time.Now()
		if client.rateLimiter != nil && !client.rateLimiter.Allow() {
			wm.logger.Warn(wm.ctx, nil, "WebSocket message rate limit exceeded")
			_ = client.conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}

		wm.processClientMessage(message)
	}
}

func (wm *WebSocketManager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wm.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-wm.ctx.Done():
			return
		}
	}
}

func (wm *WebSocketManager) processClientMessage(message []byte) {
	if wm.onMessage == nil {
		return
	}
	var msg UpdateMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
		wm.logger.Debug(wm.ctx, "Ignoring malformed WebSocket message", "bytes", len(message))
		return
	}
	wm.onMessage(wm.ctx, msg)
}

// BroadcastMessage sends a message to all connected WebSocket clients.
func (wm *WebSocketManager) BroadcastMessage(message UpdateMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		wm.logger.Error(wm.ctx, err, "Failed to marshal broadcast message")
		return
	}

	select {
	case wm.broadcast <- data:
	case <-wm.ctx.Done():
	default:
		wm.logger.Warn(wm.ctx, nil, "Broadcast channel full, dropping message", "type", message.Type)
	}
}

// GetConnectedClients returns the number of connected clients.
func (wm *WebSocketManager) GetConnectedClients() int {
	wm.clientsMutex.RLock()
	defer wm.clientsMutex.RUnlock()
	return len(wm.clients)
}

// Shutdown stops the hub and closes every connection.
func (wm *WebSocketManager) Shutdown(ctx context.Context) error {
	wm.isShutdown.Store(true)
	wm.cancel()

	select {
	case <-wm.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Only the hub sends on client channels, so they can be closed now.
	wm.shutdownOnce.Do(func() {
		wm.clientsMutex.Lock()
		defer wm.clientsMutex.Unlock()
		for conn, client := range wm.clients {
			close(client.send)
			_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
		}
		wm.clients = make(map[*websocket.Conn]*Client)
	})
	return nil
}

// IsShutdown returns whether the manager has been shut down.
func (wm *WebSocketManager) IsShutdown() bool {
	return wm.isShutdown.Load()
}
