package main

import (
	"github.com/spf13/cobra"
)

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank registered models by performance and explanation quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Board.Build(ctx)
		if err != nil {
			return err
		}
		if leaderboardLimit > 0 && len(entries) > leaderboardLimit {
			entries = entries[:leaderboardLimit]
		}
		return printJSON(entries)
	},
}

func init() {
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 0, "max entries to print (0 = all)")
	rootCmd.AddCommand(leaderboardCmd)
}
