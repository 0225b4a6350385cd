package main

import (
	"fmt"

	"github.com/aretw0/railhub"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of railhub",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "railhub version %s\n", railhub.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
