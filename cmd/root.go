package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"melodex/server"
)

var rootCmd = &cobra.Command{
	Use:   "melodex",
	Short: "Melodex resolves catalog tracks into playable audio artifacts.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
