package cmd

import (
	"github.com/spf13/cobra"

	"melodex/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the delivery pipeline HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
