package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/registry"
)

var seedFixturePath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo models and dataset into the store",
	Long:  "Persists the built-in credit-risk fixture (or a YAML fixture file) so the API is usable end-to-end. Safe to repeat; existing entities are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		fix := registry.Demo()
		if seedFixturePath != "" {
			fix, err = registry.LoadFixtureFile(seedFixturePath)
			if err != nil {
				return err
			}
		}

		res, err := registry.Seed(ctx, st, fix)
		if err != nil {
			return err
		}

		zap.L().Info("seed complete",
			zap.String("dataset_id", res.DatasetID),
			zap.Bool("dataset_skipped", res.DatasetSkipped),
			zap.Strings("models_created", res.ModelsCreated),
			zap.Strings("models_skipped", res.ModelsSkipped),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFixturePath, "fixture", "", "YAML fixture file (defaults to the built-in demo)")
	rootCmd.AddCommand(seedCmd)
}
