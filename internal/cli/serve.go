package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KafClaw/fabrix/internal/app"
	"github.com/KafClaw/fabrix/internal/config"
)

var serveSignalNotify = signal.Notify
var serveSignalStop = signal.Stop

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the tool bus router when enabled)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	printHeader(cmd.OutOrStdout(), "🚀 fabrix serve")

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer serveSignalStop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (store: %s, tool bus: %t)\n",
		cfg.Gateway.Addr(), cfg.Store.Driver, cfg.ToolBus.Enabled)
	return a.Run(ctx)
}
