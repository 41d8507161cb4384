package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/modelproof/xaibench/internal/quality"
)

var qualityExplanationID string

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Evaluate the quality of a stored explanation",
	Long:  "Recomputes faithfulness, robustness and complexity for a persisted artifact and prints the metrics.",
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

		exp, err := st.GetExplanation(ctx, qualityExplanationID)
		if err != nil {
			return eris.Wrapf(err, "load explanation %s", qualityExplanationID)
		}
		m, err := st.GetModel(ctx, exp.ModelID)
		if err != nil {
			return eris.Wrapf(err, "load model %s", exp.ModelID)
		}
		ds, err := st.GetDataset(ctx, m.DatasetID)
		if err != nil {
			return eris.Wrapf(err, "load dataset %s", m.DatasetID)
		}

		evaluator := quality.NewEvaluator(
			quality.WithRounds(cfg.Quality.RobustnessRounds),
			quality.WithEpsilon(cfg.Quality.Epsilon),
		)
		metrics, err := evaluator.Evaluate(ctx, m, ds, exp)
		if err != nil {
			return eris.Wrap(err, "evaluate quality")
		}
		return printJSON(metrics)
	},
}

func init() {
	qualityCmd.Flags().StringVar(&qualityExplanationID, "explanation", "", "explanation ID (required)")
	_ = qualityCmd.MarkFlagRequired("explanation")
	rootCmd.AddCommand(qualityCmd)
}
