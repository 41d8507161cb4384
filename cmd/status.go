package main

import (
	"github.com/spf13/cobra"

	"github.com/modelproof/xaibench/internal/monitoring"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store health and artifact counts",
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
		if err := st.Ping(ctx); err != nil {
			return err
		}

		// No orchestrator or scorer here: a CLI invocation has no
		// in-process jobs, and scoring every artifact is serve-time work.
		collector := monitoring.NewCollector(st, nil, nil)
		snap, err := collector.Collect(ctx, statusLookbackHours)
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "lookback-hours", 24, "artifact lookback window")
	rootCmd.AddCommand(statusCmd)
}
