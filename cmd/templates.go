/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/notify"
	"github.com/auroraid/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

// templatesCmd represents the templates command
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage mail templates kept in object storage",
}

var templatesPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the built-in mail templates to the configured bucket",
	Long: `Uploads the built-in verification and welcome templates under
TEMPLATES_PREFIX so they can be edited in place. Requires
TEMPLATES_SOURCE=minio or TEMPLATES_SOURCE=gcs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		objects, err := storage.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		keys, err := notify.PushBuiltinTemplates(cmd.Context(), objects, cfg.Templates.Prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s/%s\n", objects.Bucket(), key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesPushCmd)
}
