package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/railhub/internal/adapters/file"
)

var rootCmd = &cobra.Command{
	Use:   "railhub",
	Short: "railhub coordinates the stations of a rail network",
	Long: `railhub runs one station of a rail network. A station is either the hub,
which owns the route table and the parking-bay switches, or a remote that
attaches to the hub and dispatches trains through it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", file.DefaultPath, "Station file")
	rootCmd.PersistentFlags().StringSlice("env-file", nil, "Env files to load before applying RAILHUB_* overrides (default .env)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
