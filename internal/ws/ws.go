package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/internal/views"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 64 * 1024
)

// Poster appends a text message to the shared log on behalf of a client.
type Poster interface {
	Append(ctx context.Context, author, body string, kind models.MessageKind) (models.Message, error)
}

type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	poster     Poster
	logger     *zap.Logger
	mu         sync.RWMutex
	stopOnce   sync.Once
}

type Client struct {
	username string
	conn     *websocket.Conn
	hub      *Hub
	send     chan *Event
}

type Event struct {
	Type    string         `json:"type"` // "message", "cleared", "presence", "error"
	Message *views.Message `json:"message,omitempty"`
	By      string         `json:"by,omitempty"`
	Online  []string       `json:"online,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// incoming is what clients may send: {"type":"message","content":"..."}.
type incoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by CORS on the API; the socket requires a session token.
		return true
	},
}

func NewHub(poster Poster, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		poster:     poster,
		logger:     logger,
	}
}

// OnlineUsers returns the sorted, de-duplicated usernames with an open socket.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	names := make([]string, 0, len(h.clients))
	for client := range h.clients {
		names = append(names, client.username)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// PublishMessage fans a newly appended message out to every client.
func (h *Hub) PublishMessage(msg models.Message) {
	view := views.NewMessage(msg)
	h.enqueue(&Event{Type: "message", Message: &view})
}

// PublishCleared tells every client the log was wiped.
func (h *Hub) PublishCleared(by string) {
	h.enqueue(&Event{Type: "cleared", By: by})
}

func (h *Hub) enqueue(ev *Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			online := h.onlineLocked()
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("username", client.username), zap.Int("total", total))
			h.fanOut(&Event{Type: "presence", Online: online})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			online := h.onlineLocked()
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("username", client.username), zap.Int("total", total))
			h.fanOut(&Event{Type: "presence", Online: online})

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- ev:
		default:
			h.logger.Warn("send channel full, dropping event", zap.String("username", client.username), zap.String("type", ev.Type))
		}
	}
}

// sendTo delivers ev to one client if the hub still holds it. Client send
// channels are only closed under h.mu, so holding the read lock makes the
// send safe against a concurrent unregister or shutdown.
func (h *Hub) sendTo(c *Client, ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	username := c.GetString("username")
	if username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		username: username,
		conn:     conn,
		hub:      h,
		send:     make(chan *Event, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("username", c.username), zap.Error(err))
			}
			return
		}

		var event incoming
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}

		switch event.Type {
		case "message":
			c.handleMessageEvent(event)
		}
	}
}

func (c *Client) handleMessageEvent(event incoming) {
	if c.hub.poster == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	// The append is pushed back to everyone, this client included, through PublishMessage.
	if _, err := c.hub.poster.Append(ctx, c.username, event.Content, models.KindText); err != nil {
		c.hub.logger.Warn("failed to save message", zap.String("username", c.username), zap.Error(err))
		c.hub.sendTo(c, &Event{Type: "error", Error: "failed to create message"})
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

			data, err := json.Marshal(message)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
