package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/railhub"
	"github.com/aretw0/railhub/internal/cli"
	"github.com/aretw0/railhub/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run this station as a Model Context Protocol (MCP) server",
	Long: `Starts the station and exposes it to AI agents as MCP tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		cfg, store, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		debug, _ := cmd.Flags().GetBool("debug")
		// Logs go to Stderr so they never corrupt JSON-RPC on Stdout.
		logger := cli.NewLogger(cfg, debug)
		log.SetOutput(os.Stderr)

		node, err := railhub.New(cfg, railhub.WithStore(store), railhub.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("error initializing node: %w", err)
		}
		defer node.Close()

		srv := mcp.NewServer(node, railhub.Version, logger)

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return node.Run(gctx) })

		switch transport {
		case "stdio":
			logger.Info("Starting railhub MCP server (Stdio)")
			g.Go(func() error {
				defer ctx.Cancel()
				return srv.ServeStdio()
			})
		case "sse":
			g.Go(func() error { return srv.ServeSSE(gctx, addr) })
		default:
			ctx.Cancel()
			_ = g.Wait()
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
		return cli.HandleExecutionError(g.Wait())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "Address to listen on (only for SSE)")
}
