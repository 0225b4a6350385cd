package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/railhub/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status [address]",
	Short: "Show the status of a running station",
	Long: `Reads /status from a running station and prints it.
Without an address the http.addr of the station file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if asGraph, _ := cmd.Flags().GetBool("graph"); asGraph {
			format = cli.FormatGraph
		}

		addr := ""
		if len(args) > 0 {
			addr = args[0]
		} else {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr = cfg.HTTP.Addr
		}

		status, err := cli.FetchStatus(cmd.Context(), nil, addr)
		if err != nil {
			return err
		}
		return cli.RenderStatus(cmd.OutOrStdout(), status, format)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringP("format", "f", cli.FormatMarkdown, "Output format: markdown, graph or json")
	statusCmd.Flags().Bool("graph", false, "Print the network as a Mermaid graph")
}
