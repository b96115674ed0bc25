package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	redisPrefix    = "realtime:user:"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is the gateway's job; this service sits behind it.
		return true
	},
}

// Message is the envelope for everything pushed to a client.
type Message struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// relayEnvelope wraps a message on the pub/sub wire. Origin lets an instance
// recognize its own publishes, which it already delivered locally.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Client is one WebSocket connection owned by a user.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks open connections keyed by user and delivers in-app
// notifications to them. With a Redis client attached it also relays
// messages across instances via pub/sub.
type Hub struct {
	logger     *slog.Logger
	redis      *redis.Client
	instanceID string
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		redis:      redisClient,
		instanceID: uuid.New().String(),
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run owns the client registry. Call it once, in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	if h.redis != nil {
		go h.relayFromRedis(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]struct{})
			}
			h.clients[client.userID][client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "client_id", client.id, "user_id", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.userID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "client_id", client.id, "user_id", client.userID)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Emit pushes an event to every open connection the user has. It never
// blocks; a slow consumer gets dropped instead. Satisfies the dispatcher's
// in-app sender contract.
func (h *Hub) Emit(userID, event string, payload interface{}) {
	msg := Message{Event: event, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal realtime message", "event", event, "error", err)
		return
	}

	h.deliverLocal(userID, data)

	if h.redis != nil {
		wrapped, err := json.Marshal(relayEnvelope{Origin: h.instanceID, Data: data})
		if err != nil {
			h.logger.Error("failed to wrap realtime message", "event", event, "error", err)
			return
		}
		if err := h.redis.Publish(context.Background(), redisPrefix+userID, wrapped).Err(); err != nil {
			h.logger.Warn("failed to publish realtime message to redis", "user_id", userID, "error", err)
		}
	}
}

// ConnectedUsers reports how many distinct users hold open connections.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
// The user is identified by the user_id query parameter set by the gateway.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:     uuid.New().String(),
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) deliverLocal(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", "client_id", client.id, "user_id", userID)
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// relayFromRedis delivers messages published by other instances to the
// local connections of the targeted user.
func (h *Hub) relayFromRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, redisPrefix+"*")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var env relayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Origin == h.instanceID {
			// Already delivered locally when it was emitted here.
			continue
		}
		userID := strings.TrimPrefix(msg.Channel, redisPrefix)
		h.deliverLocal(userID, env.Data)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for client := range conns {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.clients, userID)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Inbound traffic is ignored; the socket is push-only. The read loop
	// exists to notice closes and answer pings.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
