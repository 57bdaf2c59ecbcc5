package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/auth"
	"github.com/4xmen/chatroom/internal/chatlog"
	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/internal/uploads"
	"github.com/4xmen/chatroom/internal/views"
)

// OnlineChecker reports who currently has a live socket.
type OnlineChecker interface {
	OnlineUsers() []string
}

type MessageHandler struct {
	log           *chatlog.Log
	authSvc       *auth.Service
	sink          *uploads.Sink
	onlineChecker OnlineChecker
	logger        *zap.Logger
}

func NewMessageHandler(log *chatlog.Log, authSvc *auth.Service, sink *uploads.Sink, onlineChecker OnlineChecker, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		log:           log,
		authSvc:       authSvc,
		sink:          sink,
		onlineChecker: onlineChecker,
		logger:        logger,
	}
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

// ListMessages returns the whole history oldest first, or only the messages
// after the ?after=<id> cursor.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	afterID := 0
	if raw := c.Query("after"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			respondError(c, http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterID = id
	}

	messages, err := h.log.ListAfter(c.Request.Context(), afterID)
	if err != nil {
		respondDomainError(c, err, "failed to fetch messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views.NewMessages(messages)})
}

// PostMessage appends a text message from the caller.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	msg, err := h.log.Append(c.Request.Context(), c.GetString("username"), req.Message, models.KindText)
	if err != nil {
		respondDomainError(c, err, "failed to create message")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": views.NewMessage(msg)})
}

// ClearMessages empties the log. Only admins may do this.
func (h *MessageHandler) ClearMessages(c *gin.Context) {
	ctx := c.Request.Context()

	actor, err := h.authSvc.LookupID(ctx, c.GetInt("user_id"))
	if err != nil {
		respondDomainError(c, err, "failed to clear messages")
		return
	}

	if err := h.log.Clear(ctx, actor); err != nil {
		if !actor.CanClearLog() {
			h.logger.Warn("clear rejected", zap.String("username", actor.Username))
		}
		respondDomainError(c, err, "failed to clear messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": true, "by": actor.Username})
}

// OnlineUsers lists the usernames with an open live feed.
func (h *MessageHandler) OnlineUsers(c *gin.Context) {
	online := []string{}
	if h.onlineChecker != nil {
		online = h.onlineChecker.OnlineUsers()
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}
