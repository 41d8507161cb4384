package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/modelproof/xaibench/internal/model"
)

var jobsServerURL string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List explanation jobs on a running server",
	Long:  "Jobs live in the serving process, so this command queries a running xaibench serve instance over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, jobsServerURL+"/explanations/", nil)
		if err != nil {
			return eris.Wrap(err, "build jobs request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrapf(err, "query %s", jobsServerURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("server returned status %d", resp.StatusCode)
		}

		var body struct {
			Jobs []model.ExplanationJob `json:"jobs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return eris.Wrap(err, "decode jobs response")
		}
		return printJSON(body.Jobs)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsServerURL, "server", "http://localhost:8080", "base URL of a running xaibench serve instance")
	rootCmd.AddCommand(jobsCmd)
}
