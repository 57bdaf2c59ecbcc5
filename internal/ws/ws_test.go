package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/models"
)

// recordingPoster stands in for the chat log and echoes appends back
// through the hub the way the real log's broadcaster does.
type recordingPoster struct {
	mu    sync.Mutex
	hub   *Hub
	posts []models.Message
}

func (p *recordingPoster) Append(_ context.Context, author, body string, kind models.MessageKind) (models.Message, error) {
	p.mu.Lock()
	msg := models.Message{ID: len(p.posts) + 1, Author: author, Body: body, Kind: kind, CreatedAt: time.Now()}
	p.posts = append(p.posts, msg)
	hub := p.hub
	p.mu.Unlock()

	if hub != nil {
		hub.PublishMessage(msg)
	}
	return msg, nil
}

type failingPoster struct{}

func (failingPoster) Append(context.Context, string, string, models.MessageKind) (models.Message, error) {
	return models.Message{}, errors.New("message is required")
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

func newTestClient(hub *Hub, username string) *Client {
	return &Client{username: username, hub: hub, send: make(chan *Event, 16)}
}

func receive(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case ev, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(nil, nil)
	require.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
	assert.Empty(t, hub.OnlineUsers())
}

func TestHubRegisterAndPresence(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()

	alice := newTestClient(hub, "alice")
	hub.register <- alice
	ev := receive(t, alice)
	assert.Equal(t, "presence", ev.Type)
	assert.Equal(t, []string{"alice"}, ev.Online)
	assert.Equal(t, []string{"alice"}, hub.OnlineUsers())

	bob := newTestClient(hub, "bob")
	hub.register <- bob
	assert.Equal(t, []string{"alice", "bob"}, receive(t, alice).Online)
	assert.Equal(t, []string{"alice", "bob"}, receive(t, bob).Online)

	hub.unregister <- bob
	assert.Equal(t, []string{"alice"}, receive(t, alice).Online)
	assert.Equal(t, []string{"alice"}, hub.OnlineUsers())

	_, ok := <-bob.send
	assert.False(t, ok, "unregistered client send channel should be closed")

	cancel()
	<-finished

	_, ok = <-alice.send
	assert.False(t, ok, "hub shutdown should close remaining clients")
}

func TestHubBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()
	defer func() {
		cancel()
		<-finished
	}()

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.register <- alice
	receive(t, alice)
	hub.register <- bob
	receive(t, alice)
	receive(t, bob)

	hub.PublishMessage(models.Message{ID: 7, Author: "bob", Body: "hi", Kind: models.KindText, CreatedAt: time.Now()})

	for _, c := range []*Client{alice, bob} {
		ev := receive(t, c)
		assert.Equal(t, "message", ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, 7, ev.Message.ID)
		assert.Equal(t, "bob", ev.Message.User)
		assert.Equal(t, "hi", ev.Message.Message)
	}

	hub.PublishCleared("saad")
	for _, c := range []*Client{alice, bob} {
		ev := receive(t, c)
		assert.Equal(t, "cleared", ev.Type)
		assert.Equal(t, "saad", ev.By)
	}
}

func TestPublishAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	for i := 0; i < cap(hub.broadcast)+1; i++ {
		hub.PublishCleared("saad")
	}
}

func TestSendToSkipsDepartedClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()

	alice := newTestClient(hub, "alice")
	hub.register <- alice
	receive(t, alice)

	hub.sendTo(alice, &Event{Type: "error", Error: "failed to create message"})
	assert.Equal(t, "error", receive(t, alice).Type)

	cancel()
	<-finished

	// alice.send is closed now; this must neither panic nor block.
	hub.sendTo(alice, &Event{Type: "error", Error: "failed to create message"})
	_, ok := <-alice.send
	assert.False(t, ok)
}

func TestShutdownWhileClientsPostFailingMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(failingPoster{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()

	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = newTestClient(hub, "user")
		hub.register <- clients[i]
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.handleMessageEvent(incoming{Type: "message", Content: ""})
			}
		}(c)
	}
	for _, c := range clients {
		go func(c *Client) {
			for range c.send {
			}
		}(c)
	}

	cancel()
	<-finished
	wg.Wait()
}

func TestWebSocketRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	poster := &recordingPoster{}
	hub := NewHub(poster, zap.NewNop())
	poster.hub = hub

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(finished)
	}()
	defer func() {
		cancel()
		<-finished
	}()

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("username", c.Query("user"))
		hub.HandleWebSocket(c)
	})
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() Event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	presence := readEvent()
	assert.Equal(t, "presence", presence.Type)
	assert.Equal(t, []string{"alice"}, presence.Online)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "hello room"}))

	ev := readEvent()
	assert.Equal(t, "message", ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "alice", ev.Message.User)
	assert.Equal(t, "hello room", ev.Message.Message)
	assert.Equal(t, 1, poster.count())

	// Unknown event types are ignored.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "typing"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "second"}))
	assert.Equal(t, "second", readEvent().Message.Message)
}

func TestHandleWebSocketRequiresUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil)

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, 401, w.Code)
}
