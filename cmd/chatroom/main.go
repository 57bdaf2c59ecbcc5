package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/auth"
	"github.com/4xmen/chatroom/internal/chatlog"
	"github.com/4xmen/chatroom/internal/db"
	"github.com/4xmen/chatroom/internal/logging"
	"github.com/4xmen/chatroom/pkg/config"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatroom",
	Short: "Shared chat room server",
	Long: `chatroom runs a single shared chat room: accounts, one message feed
with file and image uploads, and a websocket live feed.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		var err error
		logger, err = logging.New(cfg.Environment, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, statusCmd, importCmd, exportCmd, grantAdminCmd, revokeAdminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stores are the persistent components every subcommand works against.
type stores struct {
	database *db.DB
	auth     *auth.Service
	log      *chatlog.Log
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	conn := database.GetConn()
	return &stores{
		database: database,
		auth:     auth.New(conn, cfg.AdminUsername, logger.Named("auth")),
		log:      chatlog.New(conn, logger.Named("chatlog")),
	}, nil
}

func (s *stores) Close() error {
	return s.database.Close()
}
