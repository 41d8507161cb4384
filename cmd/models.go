package main

import (
	"github.com/spf13/cobra"

	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/store"
)

var (
	modelsFamily string
	modelsStatus string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered models",
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

		models, err := st.ListModels(ctx, store.ModelFilter{
			Family: model.ModelFamily(modelsFamily),
			Status: model.ModelStatus(modelsStatus),
		})
		if err != nil {
			return err
		}
		return printJSON(models)
	},
}

func init() {
	modelsCmd.Flags().StringVar(&modelsFamily, "family", "", "filter by family (tree|linear|blackbox)")
	modelsCmd.Flags().StringVar(&modelsStatus, "status", "", "filter by status (training|completed|failed)")
	rootCmd.AddCommand(modelsCmd)
}
