package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/railhub"
	"github.com/aretw0/railhub/internal/adapters/file"
	"github.com/aretw0/railhub/internal/config"
	"github.com/aretw0/railhub/internal/presentation/tui"
	httpAdapter "github.com/aretw0/railhub/pkg/adapters/http"
	"github.com/aretw0/railhub/pkg/adapters/mcp"
)

// shutdownTimeout gives outstanding requests a deadline on exit.
const shutdownTimeout = 5 * time.Second

// ServeOptions configure a running node.
type ServeOptions struct {
	// HTTPAddr overrides the http.addr of the station file. "-" disables the API.
	HTTPAddr string
	// MCPAddr enables the MCP SSE endpoint when set.
	MCPAddr string
	// Origins are the CORS origins allowed on the API.
	Origins []string
	// Banner is printed to Out when set.
	Banner bool
	Out    io.Writer
	// NodeOptions are passed to railhub.New after the store and logger.
	NodeOptions []railhub.Option
}

// Serve runs the node with its HTTP API and optional MCP endpoint until ctx ends.
func Serve(ctx context.Context, cfg *config.Config, store *file.Store, logger *slog.Logger, opts ServeOptions) error {
	if opts.Banner && opts.Out != nil {
		tui.PrintBanner(opts.Out)
	}

	nodeOpts := []railhub.Option{railhub.WithLogger(logger)}
	if store != nil {
		nodeOpts = append(nodeOpts, railhub.WithStore(store))
	}
	node, err := railhub.New(cfg, append(nodeOpts, opts.NodeOptions...)...)
	if err != nil {
		return fmt.Errorf("error initializing node: %w", err)
	}
	defer node.Close()

	logger.Info("Starting railhub",
		"version", railhub.Version,
		"station", cfg.Station.ID,
		"role", cfg.Station.Role,
		"transport", cfg.Transport.Kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(gctx) })

	addr := cfg.HTTP.Addr
	if opts.HTTPAddr != "" {
		addr = opts.HTTPAddr
	}
	if addr != "" && addr != "-" {
		handler := httpAdapter.NewHandler(node,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMetrics(node.MetricsHandler()),
			httpAdapter.WithAllowedOrigins(opts.Origins...),
		)
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return serveHTTP(gctx, srv, logger) })
	}

	if opts.MCPAddr != "" {
		srv := mcp.NewServer(node, railhub.Version, logger)
		g.Go(func() error { return srv.ServeSSE(gctx, opts.MCPAddr) })
	}

	return HandleExecutionError(g.Wait())
}

func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "address", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("HTTP API stopped")
		return nil
	}
}

// HandleExecutionError drops the errors that only mean the process was asked to stop.
func HandleExecutionError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
