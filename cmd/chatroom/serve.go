package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/handlers"
	"github.com/4xmen/chatroom/internal/session"
	"github.com/4xmen/chatroom/internal/uploads"
	"github.com/4xmen/chatroom/internal/ws"
	"github.com/4xmen/chatroom/pkg/config"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = 10 * time.Minute
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// app is the wired server: every component the router serves from.
type app struct {
	router *gin.Engine
	hub    *ws.Hub
	gate   *session.Gate
}

func newApp(cfg *config.Config, st *stores, logger *zap.Logger) (*app, error) {
	conn := st.database.GetConn()

	sink, err := uploads.New(cfg.FileStoragePath, cfg.MaxUploadSize, logger.Named("uploads"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload directory: %w", err)
	}

	gate := session.NewWithTTL(conn, cfg.JWTSecret, cfg.SessionTTL, logger.Named("session"))

	hub := ws.NewHub(st.log, logger.Named("ws"))
	st.log.SetBroadcaster(hub)

	authHandler := handlers.NewAuthHandler(st.auth, gate, logger.Named("handlers"))
	msgHandler := handlers.NewMessageHandler(st.log, st.auth, sink, hub, logger.Named("handlers"))

	router := gin.New()
	router.Use(serverErrorLogger(logger))
	router.Use(accessLogger(logger.Named("http")))
	router.Use(panicRecovery(logger))
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.MaxMultipartMemory = cfg.MaxUploadSize

	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/register", rateLimitMiddleware(registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/me", authHandler.Me)

		protected.GET("/messages", msgHandler.ListMessages)
		protected.POST("/messages", msgHandler.PostMessage)
		protected.DELETE("/messages", msgHandler.ClearMessages)
		protected.GET("/online", msgHandler.OnlineUsers)

		protected.POST("/upload", msgHandler.UploadFile)
		protected.GET("/files/:name", msgHandler.ServeFile)
	}

	router.GET("/ws", authHandler.AuthMiddleware(), hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, localizedError(c, "not found"))
	})

	return &app{router: router, hub: hub, gate: gate}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSecret == defaultJWTSecret {
			logger.Warn("JWT_SECRET is the built-in default; set it before exposing the server")
		}
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := newApp(cfg, st, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.hub.Run(ctx)
	go a.gate.RunJanitor(ctx, janitorInterval)

	srv := &http.Server{
		Addr:              net.JoinHostPort("0.0.0.0", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
