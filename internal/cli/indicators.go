package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/leakwatch/internal/model"
	"github.com/ppiankov/leakwatch/internal/repo"
)

func init() {
	rootCmd.AddCommand(indicatorsCmd)
}

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Show per-kind indicator counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		repository, err := repo.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
		defer cancel()
		if err := repository.Connect(ctx); err != nil {
			return err
		}
		defer func() { _ = repository.Close() }()
		if err := repository.Bootstrap(ctx); err != nil {
			return err
		}

		counts, err := repository.CountIndicatorsByKind(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, kind := range []model.IndicatorKind{model.KindDomain, model.KindEmail, model.KindIPv4} {
			fmt.Printf("%-8s %d\n", kind, counts[kind])
			total += counts[kind]
		}
		fmt.Printf("%-8s %d\n", "total", total)
		return nil
	},
}
