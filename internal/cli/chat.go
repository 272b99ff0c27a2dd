package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/fabrix/internal/app"
	"github.com/KafClaw/fabrix/internal/config"
	"github.com/KafClaw/fabrix/internal/orchestrator"
)

var (
	chatSessionID string
	chatUserID    string
	chatTenantID  string
	chatKBID      string
	chatRunID     string
	chatRoles     []string
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one turn in-process and print the JSON response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "cli:default", "Session ID")
	chatCmd.Flags().StringVarP(&chatUserID, "user", "u", "cli", "User ID")
	chatCmd.Flags().StringVar(&chatTenantID, "tenant", "local", "Tenant ID")
	chatCmd.Flags().StringVar(&chatKBID, "kb", "", "Knowledge base ID (defaults to the session's kb_id)")
	chatCmd.Flags().StringVar(&chatRunID, "run-id", "", "Reuse an existing run ID")
	chatCmd.Flags().StringSliceVar(&chatRoles, "roles", nil, "Caller roles (defaults to the user's permissions)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	uiState := a.UIState.State(chatSessionID)
	kbID := chatKBID
	if kbID == "" {
		kbID, _ = uiState["kb_id"].(string)
	}
	roles := chatRoles
	if roles == nil {
		roles = a.Admin.UserPermissions(chatUserID)
	}

	rc := &orchestrator.RunContext{
		SessionID:      chatSessionID,
		ConversationID: chatSessionID,
		AgentID:        "cli",
		UserID:         chatUserID,
		TenantID:       chatTenantID,
		Message:        strings.Join(args, " "),
		UIState:        uiState,
		Roles:          roles,
		KBID:           kbID,
		RunID:          chatRunID,
	}

	ctx := cmd.Context()
	if cfg.Gateway.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Gateway.TurnTimeout)
		defer cancel()
	}

	resp, err := a.Engine.Run(ctx, rc)
	if err != nil {
		return err
	}
	if len(resp.StatePatch) > 0 {
		a.UIState.ApplyPatchNext(chatSessionID, resp.StatePatch)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
