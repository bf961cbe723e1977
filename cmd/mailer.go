/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/logging"
	"github.com/auroraid/apiserver/internal/mq"
	"github.com/auroraid/apiserver/internal/notify"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued mail over SMTP",
	Long: `Consumes rendered mail published by servers running with
MAIL_DELIVERY=queue and relays it through the configured SMTP server.`,
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

		backend, err := mq.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Mail.QueueBackend, err)
		}
		defer backend.Close()

		worker := notify.NewWorker(backend, cfg.Mail.QueueName, notify.NewSMTPSender(cfg.SMTP), logger)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		logger.Info().Msg("mailer stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
