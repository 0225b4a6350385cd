package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/railhub/internal/adapters/file"
	"github.com/aretw0/railhub/internal/cli"
	"github.com/aretw0/railhub/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this station",
	Long: `Starts the station described by the station file, in its configured role,
and exposes the HTTP API (status, departures, switches, metrics).

Every setting can be overridden with RAILHUB_* environment variables,
read from the process or from .env files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("http")
		mcpAddr, _ := cmd.Flags().GetString("mcp")
		origins, _ := cmd.Flags().GetStringSlice("cors")

		cfg, store, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		debug, _ := cmd.Flags().GetBool("debug")
		logger := cli.NewLogger(cfg, debug)

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		err = cli.Serve(ctx, cfg, store, logger, cli.ServeOptions{
			HTTPAddr: httpAddr,
			MCPAddr:  mcpAddr,
			Origins:  origins,
			Banner:   cli.IsTerminal(os.Stdout),
			Out:      os.Stdout,
		})
		if sig := ctx.Signal(); sig != nil {
			logger.Info("Stopped", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("http", "", "HTTP API address, overrides http.addr ('-' disables)")
	runCmd.Flags().String("mcp", "", "Also serve MCP over SSE on this address")
	runCmd.Flags().StringSlice("cors", nil, "Allowed CORS origins for the HTTP API")
}

func loadConfig(cmd *cobra.Command) (*config.Config, *file.Store, error) {
	path, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	return cli.LoadConfig(cmd.Context(), cli.LoadOptions{ConfigPath: path, EnvFiles: envFiles})
}
