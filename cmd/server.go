/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/logging"
	"github.com/auroraid/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the auroraid HTTP server",
	Long: `Starts the auroraid HTTP server. Usage:

	auroraid server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			_ = srv.Shutdown(context.Background())
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
