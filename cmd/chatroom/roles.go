package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/pkg/config"
)

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin <username>",
	Short: "Allow an account to clear the chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetRole(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0], models.RoleAdmin)
	},
}

var revokeAdminCmd = &cobra.Command{
	Use:   "revoke-admin <username>",
	Short: "Make an account a regular member again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetRole(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0], models.RoleMember)
	},
}

func runSetRole(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, username string, role models.Role) error {
	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.auth.SetRole(ctx, username, role); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("no account named %q", username)
		}
		return err
	}

	fmt.Fprintf(out, "%s is now %s\n", username, role)
	return nil
}
