package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/docstore"
	"github.com/4xmen/chatroom/pkg/config"
)

const dayLayout = "2006-01-02"

type transferOptions struct {
	UsersPath string
	ChatPath  string
	Day       string
	DryRun    bool
}

var (
	importOpts transferOptions
	exportOpts transferOptions
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load users.json and chat_data.json into the database",
	Long: `Loads the flat JSON documents into the database. Accounts that already
exist are left untouched. Messages are appended after the current history;
their HH:MM stamps are placed on --date (default today).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), cmd.OutOrStdout(), cfg, logger, importOpts)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the accounts and history as users.json and chat_data.json",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, logger, exportOpts)
	},
}

func init() {
	importCmd.Flags().StringVar(&importOpts.UsersPath, "users", "", "path to users.json")
	importCmd.Flags().StringVar(&importOpts.ChatPath, "chat", "", "path to chat_data.json")
	importCmd.Flags().StringVar(&importOpts.Day, "date", "", "day (YYYY-MM-DD) to place imported message times on")
	importCmd.Flags().BoolVar(&importOpts.DryRun, "dry-run", false, "parse the documents and report without writing")

	exportCmd.Flags().StringVar(&exportOpts.UsersPath, "users", "", "path to write users.json")
	exportCmd.Flags().StringVar(&exportOpts.ChatPath, "chat", "", "path to write chat_data.json")
}

func (o transferOptions) validate() error {
	if strings.TrimSpace(o.UsersPath) == "" && strings.TrimSpace(o.ChatPath) == "" {
		return fmt.Errorf("at least one of --users or --chat is required")
	}
	return nil
}

func (o transferOptions) day(now time.Time) (time.Time, error) {
	if o.Day == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	}
	day, err := time.ParseInLocation(dayLayout, o.Day, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", o.Day)
	}
	return day, nil
}

func runImport(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, opts transferOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	day, err := opts.day(time.Now())
	if err != nil {
		return err
	}

	if opts.DryRun {
		return previewImport(out, opts)
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := docstore.Import(ctx, st.database.GetConn(), st.auth, st.log, opts.UsersPath, opts.ChatPath, day)
	if err != nil {
		return fmt.Errorf("import failed, nothing was written: %w", err)
	}

	logger.Info("import finished",
		zap.Int("accounts", summary.Accounts),
		zap.Int("skipped_accounts", summary.SkippedAccounts),
		zap.Int("invalid_accounts", summary.InvalidAccounts),
		zap.Int("messages", summary.Messages),
		zap.Int("invalid_messages", summary.InvalidMessages),
	)
	fmt.Fprintf(out, "Imported %d accounts (%d already present) and %d messages\n",
		summary.Accounts, summary.SkippedAccounts, summary.Messages)
	if summary.InvalidAccounts > 0 || summary.InvalidMessages > 0 {
		fmt.Fprintf(out, "Skipped %d invalid accounts and %d invalid messages\n",
			summary.InvalidAccounts, summary.InvalidMessages)
	}
	return nil
}

func previewImport(out io.Writer, opts transferOptions) error {
	var accounts, messages int
	if opts.UsersPath != "" {
		users, err := docstore.LoadUsers(opts.UsersPath)
		if err != nil {
			return err
		}
		accounts = len(users)
	}
	if opts.ChatPath != "" {
		entries, err := docstore.LoadChat(opts.ChatPath)
		if err != nil {
			return err
		}
		messages = len(entries)
	}

	fmt.Fprintf(out, "Dry run: would import up to %d accounts and %d messages\n", accounts, messages)
	return nil
}

func runExport(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, opts transferOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := docstore.Export(ctx, st.auth, st.log, opts.UsersPath, opts.ChatPath)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	logger.Info("export finished", zap.Int("accounts", summary.Accounts), zap.Int("messages", summary.Messages))
	fmt.Fprintf(out, "Exported %d accounts and %d messages\n", summary.Accounts, summary.Messages)
	return nil
}
