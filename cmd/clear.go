/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/server"
	"github.com/auroraid/apiserver/internal/services"
	"github.com/auroraid/apiserver/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const clearConfirmation = "YES"

var errNotConfirmed = errors.New("clear-accounts aborted")

// clearCmd represents the clear-accounts command
var clearCmd = &cobra.Command{
	Use:   "clear-accounts",
	Short: "Delete every account and pending verification code",
	Long: `Deletes all user records, all pending verification codes and resets
the user id counter in the configured store. This cannot be undone.

Must be run from an interactive terminal; type YES to confirm.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if err := confirmClear(cmd.InOrStdin(), cmd.OutOrStdout(), interactive); err != nil {
			return err
		}

		kvStore, err := server.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer kvStore.Close()

		admin := services.NewAdminService(store.NewUserRepository(kvStore), store.NewCodeRepository(kvStore))
		report, err := admin.ClearAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d user keys and %d verification codes\n", report.Users, report.Codes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

// confirmClear asks for the confirmation word. Without a terminal there is
// nobody to ask, so it refuses.
func confirmClear(in io.Reader, out io.Writer, interactive bool) error {
	if !interactive {
		return fmt.Errorf("%w: stdin is not a terminal", errNotConfirmed)
	}

	fmt.Fprintf(out, "This deletes ALL accounts and verification codes. Type %s to continue: ", clearConfirmation)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if strings.TrimSpace(line) != clearConfirmation {
		return errNotConfirmed
	}
	return nil
}
