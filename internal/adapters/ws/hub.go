// Package ws is the websocket transport: it authenticates connections,
// tracks room membership, decodes inbound activity events onto the queue
// and fans broadcasts out to the admin room.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/selectedu/select/internal/adapters/http/token"
	"github.com/selectedu/select/internal/adapters/mq/queue"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
	"github.com/selectedu/select/pkg/metrics"
)

const (
	roomAdmin = "admins"
	roomUser  = "users"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub owns all live connections and their room membership.
type Hub struct {
	queue  queue.Queue
	tokens *token.Manager

	mu     sync.RWMutex
	admins map[*Client]struct{}
	users  map[string]map[*Client]struct{}

	upgrader  websocket.Upgrader
	readLimit int64
	logger    logger.Logger
}

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithAllowedOrigin restricts the websocket handshake to one browser origin.
// An empty origin allows all.
func WithAllowedOrigin(origin string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			if origin == "" {
				return true
			}
			got := r.Header.Get("Origin")
			return got == "" || strings.EqualFold(got, origin)
		}
	}
}

// WithReadLimit caps the size of inbound frames.
func WithReadLimit(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates a hub enqueueing inbound events onto q.
func NewHub(q queue.Queue, tokens *token.Manager, opts ...Option) *Hub {
	h := &Hub{
		queue:     q,
		tokens:    tokens,
		admins:    make(map[*Client]struct{}),
		users:     make(map[string]map[*Client]struct{}),
		readLimit: 8192,
		logger:    logger.Get().Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades an authenticated request to a websocket connection.
// The bearer token comes from the "token" query parameter or the
// Authorization header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	c := newClient(h, conn, claims.UserID, claims.Role)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) authenticate(r *http.Request) (*token.Claims, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return h.tokens.Verify(raw)
}

// BroadcastToAdmins fans one event out to every admin connection.
func (h *Hub) BroadcastToAdmins(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error(context.Background(), "marshal broadcast failed",
			logger.String("event", event), logger.Error(err))
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.admins {
		c.trySend(frame)
	}
	metrics.RecordBroadcast(event)
}

// SendToUser delivers one event to every connection of a single user.
func (h *Hub) SendToUser(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.users[userID] {
		c.trySend(frame)
	}
}

// AdminCount reports the number of connections in the admin room.
func (h *Hub) AdminCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.admins)
}

func (h *Hub) joinAdmin(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.admins[c]; ok {
		return
	}
	h.admins[c] = struct{}{}
	metrics.IncWSConnections(roomAdmin)
}

func (h *Hub) joinUser(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.joinedUser != "" {
		return
	}
	c.joinedUser = userID
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Client]struct{})
	}
	h.users[userID][c] = struct{}{}
	metrics.IncWSConnections(roomUser)
}

// remove detaches the client from all rooms. It reports whether the client
// was in a user room, so the caller can synthesize a disconnect event.
func (h *Hub) remove(c *Client) (userID string, wasUser bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.admins[c]; ok {
		delete(h.admins, c)
		metrics.DecWSConnections(roomAdmin)
	}
	if c.joinedUser != "" {
		if set := h.users[c.joinedUser]; set != nil {
			if _, ok := set[c]; ok {
				delete(set, c)
				metrics.DecWSConnections(roomUser)
			}
			if len(set) == 0 {
				delete(h.users, c.joinedUser)
			}
		}
		return c.joinedUser, true
	}
	return "", false
}

func (h *Hub) enqueue(a model.Activity) {
	a.ReceivedAt = time.Now()
	metrics.RecordEventReceived(string(a.Kind))
	if !h.queue.Enqueue(context.Background(), a) {
		h.logger.Warn(context.Background(), "activity queue full, event dropped",
			logger.String("kind", string(a.Kind)),
			logger.String("userID", a.UserID),
		)
	}
}
