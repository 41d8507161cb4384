package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/modelproof/xaibench/internal/compare"
	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/model"
)

var (
	compareModelID    string
	compareScope      string
	compareInstance   int
	compareSampleSize int
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare shap and lime attributions for one model",
	Long:  "Runs both methods for the given model and scope (served from cache when available) and prints their agreement metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		scope := model.Scope{Kind: model.ScopeKind(compareScope)}
		if scope.Kind == model.ScopeLocal {
			scope.Instance = compareInstance
		}

		artifacts := make([]*model.Explanation, 2)
		for i, method := range []model.Method{model.MethodSHAP, model.MethodLIME} {
			job, err := env.Orch.Submit(ctx, jobs.SubmitRequest{
				ModelID: compareModelID,
				Method:  method,
				Scope:   scope,
				Config:  model.JobConfig{SampleSize: compareSampleSize},
			})
			if err != nil {
				return eris.Wrapf(err, "submit %s job", method)
			}
			job, err = waitTerminal(ctx, env, job.ID, 2*time.Minute)
			if err != nil {
				return err
			}
			if job.State != model.JobStateCompleted {
				return eris.Errorf("%s job ended in state %s", method, job.State)
			}
			artifacts[i], err = env.Store.GetExplanation(ctx, job.ExplanationID)
			if err != nil {
				return eris.Wrapf(err, "load %s artifact", method)
			}
		}

		result, err := compare.Explanations(artifacts[0], artifacts[1])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	compareCmd.Flags().StringVar(&compareModelID, "model", "", "model ID (required)")
	compareCmd.Flags().StringVar(&compareScope, "scope", "global", "explanation scope (global|local)")
	compareCmd.Flags().IntVar(&compareInstance, "instance", 0, "instance index for local scope")
	compareCmd.Flags().IntVar(&compareSampleSize, "sample-size", 0, "background sample size (0 = default)")
	_ = compareCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(compareCmd)
}
