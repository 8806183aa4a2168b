// Package cli wires the leakwatch commands.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ppiankov/leakwatch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "leakwatch",
	Short:        "Archive ingester for leak channels",
	Long:         "Watches Telegram channels (and an optional drop directory) for ZIP/RAR archives, stores them content-addressed, and extracts indicators of compromise from their text contents.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings loads configuration and applies the log level.
func loadSettings() (*config.Settings, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return cfg, nil
}
