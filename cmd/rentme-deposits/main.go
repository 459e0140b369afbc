package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rentme-deposits/internal/infra/config"
	"rentme-deposits/internal/infra/obs"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "rentme-deposits",
	Short:         "Security deposit release and damage claim reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logger = obs.NewLogger(cfg.Env, cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger == nil {
			logger = obs.NewLogger("dev", "info")
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
