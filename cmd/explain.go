package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/jobs"
	"github.com/modelproof/xaibench/internal/model"
)

var (
	explainModelID    string
	explainMethod     string
	explainScope      string
	explainInstance   int
	explainSampleSize int
	explainTimeout    time.Duration
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Generate an explanation for a registered model",
	Long:  "Submits an attribution job, waits for it to finish, and prints the artifact as JSON. Repeated identical invocations are served from the cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		scope := model.Scope{Kind: model.ScopeKind(explainScope)}
		if scope.Kind == model.ScopeLocal {
			scope.Instance = explainInstance
		}

		job, err := env.Orch.Submit(ctx, jobs.SubmitRequest{
			ModelID: explainModelID,
			Method:  model.Method(explainMethod),
			Scope:   scope,
			Config:  model.JobConfig{SampleSize: explainSampleSize},
		})
		if err != nil {
			return eris.Wrap(err, "submit explanation job")
		}

		job, err = waitTerminal(ctx, env, job.ID, explainTimeout)
		if err != nil {
			return err
		}

		switch job.State {
		case model.JobStateCompleted:
			artifact, err := env.Store.GetExplanation(ctx, job.ExplanationID)
			if err != nil {
				return eris.Wrap(err, "load explanation artifact")
			}
			zap.L().Info("explanation complete",
				zap.String("job_id", job.ID),
				zap.String("explanation_id", artifact.ID),
				zap.Int64("cache_hits", artifact.CacheHits),
			)
			return printJSON(artifact)
		case model.JobStateFailed:
			return eris.Errorf("job failed (%s): %s", job.Error.Class, job.Error.Message)
		default:
			return eris.Errorf("job ended in state %s", job.State)
		}
	},
}

// waitTerminal polls the orchestrator until the job reaches a terminal
// state or the timeout elapses.
func waitTerminal(ctx context.Context, env *env, jobID string, timeout time.Duration) (*model.ExplanationJob, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := env.Orch.Status(jobID)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, eris.Errorf("job %s still %s after %s", jobID, job.State, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "wait for job")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	explainCmd.Flags().StringVar(&explainModelID, "model", "", "model ID (required)")
	explainCmd.Flags().StringVar(&explainMethod, "method", "shap", "attribution method (shap|lime)")
	explainCmd.Flags().StringVar(&explainScope, "scope", "global", "explanation scope (global|local)")
	explainCmd.Flags().IntVar(&explainInstance, "instance", 0, "instance index for local scope")
	explainCmd.Flags().IntVar(&explainSampleSize, "sample-size", 0, "background sample size (0 = default)")
	explainCmd.Flags().DurationVar(&explainTimeout, "timeout", 2*time.Minute, "how long to wait for the job")
	_ = explainCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(explainCmd)
}
