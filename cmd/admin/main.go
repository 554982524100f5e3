// Command admin runs operational tasks against the fintrack database.
package main

import (
	"os"

	"fintrack/internal/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Fintrack maintenance commands",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Init(os.Getenv("ENV"))
	},
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.Get().Errorf("admin: %v", err)
		os.Exit(1)
	}
}
