// Package websocket pushes alert and aircraft updates to connected UI clients.
package websocket

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message types sent to clients
const (
	TypeWelcome      = "welcome"
	TypeInitialState = "initialState"
	TypeAlerts       = "alerts"
	TypePlanes       = "planes"
	TypePing         = "ping"
	TypePong         = "pong"
)

const (
	sendBuffer     = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InitialState is sent to every client right after it connects.
type InitialState struct {
	Alerts interface{} `json:"tasks"`
	Planes interface{} `json:"planes"`
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	getState   func() InitialState
	upgrader   websocket.Upgrader
}

// NewHub creates a new WebSocket hub. An empty allowedOrigins list accepts
// same-host origins only; "*" accepts any origin.
func NewHub(getState func() InitialState, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		getState:   getState,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}
	return h
}

// SetStateGetter sets the state getter function
func (h *Hub) SetStateGetter(getState func() InitialState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getState = getState
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client", client.id).Msg("WebSocket client connected")
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Info().Str("client", client.id).Msg("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it
					delete(h.clients, client)
					close(client.send)
					log.Warn().Str("client", client.id).Msg("WebSocket client send buffer full, disconnecting")
				}
			}
			h.mu.Unlock()
		}
	}
}

// greet queues the welcome message and the current state for a new client.
func (h *Hub) greet(client *Client) {
	welcome := Message{
		Type: TypeWelcome,
		Data: map[string]string{"message": "Connected to airguardian", "client": client.id},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	h.mu.RLock()
	getState := h.getState
	h.mu.RUnlock()
	if getState == nil {
		log.Warn().Msg("No state getter defined")
		return
	}

	initial := Message{Type: TypeInitialState, Data: sanitizeData(getState())}
	data, err := json.Marshal(initial)
	if err != nil {
		log.Error().Err(err).Str("client", client.id).Msg("Failed to marshal initial state")
		return
	}
	select {
	case client.send <- data:
		log.Debug().Str("client", client.id).Int("bytes", len(data)).Msg("Initial state sent")
	default:
		log.Warn().Str("client", client.id).Msg("Client send buffer full, skipping initial state")
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastAlerts pushes the current alert list to all clients
func (h *Hub) BroadcastAlerts(alerts interface{}) {
	h.broadcastMessage(Message{Type: TypeAlerts, Data: alerts})
}

// BroadcastPlanes pushes the current aircraft snapshot to all clients
func (h *Hub) BroadcastPlanes(planes interface{}) {
	h.broadcastMessage(Message{Type: TypePlanes, Data: planes})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastMessage(msg Message) {
	msg.Data = sanitizeData(msg.Data)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warn().Str("type", msg.Type).Msg("WebSocket broadcast channel full")
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed WebSocket message")
			continue
		}

		if msg.Type == TypePing {
			pong := Message{Type: TypePong, Data: map[string]int64{"timestamp": time.Now().Unix()}}
			if data, err := json.Marshal(pong); err == nil {
				c.trySend(data)
			}
		}
	}
}

// trySend queues data unless the hub already closed the client.
func (c *Client) trySend(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
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
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
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

// sanitizeData replaces NaN/Inf values with nil so the payload always marshals
func sanitizeData(data interface{}) interface{} {
	if jsonBytes, err := json.Marshal(data); err == nil {
		return json.RawMessage(jsonBytes)
	}
	return sanitizeValue(data)
}

func sanitizeValue(data interface{}) interface{} {
	switch v := data.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
		return v
	case map[string]interface{}:
		sanitized := make(map[string]interface{}, len(v))
		for k, val := range v {
			sanitized[k] = sanitizeValue(val)
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, len(v))
		for i, val := range v {
			sanitized[i] = sanitizeValue(val)
		}
		return sanitized
	default:
		return v
	}
}
