package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/auth"
	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/internal/session"
	"github.com/4xmen/chatroom/internal/views"
)

type AuthHandler struct {
	authSvc *auth.Service
	gate    *session.Gate
	logger  *zap.Logger
}

func NewAuthHandler(authSvc *auth.Service, gate *session.Gate, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{authSvc: authSvc, gate: gate, logger: logger}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token     string        `json:"token"`
	UserID    int           `json:"user_id"`
	Username  string        `json:"username"`
	ExpiresAt int64         `json:"expires_at"`
	Account   views.Account `json:"account"`
}

// Register creates a new member account and logs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	account, err := h.authSvc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondDomainError(c, err, "internal server error")
		return
	}

	h.issue(c, http.StatusCreated, account)
}

// Login authenticates a user and opens a session for it.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	account, err := h.authSvc.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondDomainError(c, err, "internal server error")
		return
	}

	h.issue(c, http.StatusOK, account)
}

func (h *AuthHandler) issue(c *gin.Context, status int, account models.Account) {
	sess, token, err := h.gate.Create(c.Request.Context(), account)
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to generate token")
		return
	}
	h.logger.Debug("session opened", zap.String("username", account.Username), zap.String("ip", c.ClientIP()))

	c.JSON(status, AuthResponse{
		Token:     token,
		UserID:    account.ID,
		Username:  account.Username,
		ExpiresAt: sess.ExpiresAt.Unix(),
		Account:   views.NewAccount(account),
	})
}

// Logout destroys the caller's session; its token stops working immediately.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess, ok := c.Get("session")
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.gate.Destroy(c.Request.Context(), sess.(models.Session).ID); err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to logout")
		return
	}

	c.Status(http.StatusNoContent)
}

// Me returns the caller's account.
func (h *AuthHandler) Me(c *gin.Context) {
	account, err := h.authSvc.LookupID(c.Request.Context(), c.GetInt("user_id"))
	if err != nil {
		respondDomainError(c, err, "failed to fetch profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": views.NewAccount(account)})
}

// AuthMiddleware resolves the bearer token to a live session.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			token = ""
		}

		// Browsers cannot set headers on a websocket handshake.
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			abortError(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		sess, err := h.gate.Resolve(c.Request.Context(), token)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set("session", sess)
		c.Set("user_id", sess.AccountID)
		c.Set("username", sess.Username)
		c.Next()
	}
}
