package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/leakwatch/internal/storage"
)

func init() {
	rootCmd.AddCommand(janitorCmd)
}

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Remove stale scratch directories",
	Long:  "Sweeps the storage scratch area once, removing entries older than the configured scratch max age. The running daemon does this hourly; the command covers crashed runs and cron-driven setups.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		files, err := storage.New(cfg.StoragePath)
		if err != nil {
			return err
		}
		n, err := files.JanitorScratch(cfg.ScratchMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d stale scratch entries\n", n)
		return nil
	},
}
