package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor   bool
	actorID   string
	actorRole string
)

var rootCmd = &cobra.Command{
	Use:           "jobmatch",
	Short:         "Recruiting workflow and semantic job matching",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actorID, "as", envOr("JOBMATCH_ACTOR_ID", "cli"), "actor id sent to the server")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", envOr("JOBMATCH_ACTOR_ROLE", "admin"), "actor role: candidate, company or admin")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(applyCmd, inviteCmd, respondCmd, reviewCmd, withdrawCmd, removeCmd)
	rootCmd.AddCommand(relationshipsCmd, suggestCmd, candidateCmd, jobCmd, reindexCmd)
	rootCmd.AddCommand(configCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
