// Package mcp exposes a node to agents as an MCP server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
)

// RegistryURI names the route table resource.
const RegistryURI = "railhub://registry"

// Service is the node surface the tools drive.
type Service interface {
	Status(ctx context.Context) domain.NodeStatus
	SelectDestination(ctx context.Context, dest string) error
	CancelDeparture(ctx context.Context) error
	Brake(ctx context.Context) error
}

// DepartureResult is returned by the departure tools.
type DepartureResult struct {
	Intent    domain.DepartureIntent `json:"intent" jsonschema_description:"The departure intent after the call"`
	LastError string                 `json:"last_error,omitempty" jsonschema_description:"Why the previous departure ended, if it failed"`
}

// Server exposes a node through MCP tools and resources.
type Server struct {
	service   Service
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server for service.
func NewServer(service Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		service:   service,
		logger:    logging.OrNop(logger),
		mcpServer: server.NewMCPServer("railhub-mcp", version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	allow := cors.AllowAll().Handler
	mux := http.NewServeMux()
	mux.Handle("/sse", allow(sseServer.SSEHandler()))
	mux.Handle("/message", allow(sseServer.MessageHandler()))

	httpServer := &http.Server{Addr: addr, Handler: mux}
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop MCP server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("station_status",
		mcp.WithDescription("Show the station: train presence, departure intent, lock and route table."),
		mcp.WithOutputSchema[domain.NodeStatus](),
	), mcp.NewStructuredToolHandler(s.handleStatus))

	s.mcpServer.AddTool(mcp.NewTool("select_destination",
		mcp.WithDescription("Send the next train to a station of the route table."),
		mcp.WithString("destination_id", mcp.Required(), mcp.Description("Station id from the route table")),
		mcp.WithOutputSchema[DepartureResult](),
	), mcp.NewStructuredToolHandler(s.handleSelectDestination))

	s.mcpServer.AddTool(mcp.NewTool("cancel_departure",
		mcp.WithDescription("Cancel the pending departure or idle action."),
		mcp.WithOutputSchema[DepartureResult](),
	), mcp.NewStructuredToolHandler(s.handleCancelDeparture))

	s.mcpServer.AddTool(mcp.NewTool("brake",
		mcp.WithDescription("Power the platform rail off."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.service.Brake(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("brake failed: %v", err)), nil
		}
		return mcp.NewToolResultText("rail powered off"), nil
	})
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.NodeStatus, error) {
	return s.service.Status(ctx), nil
}

func (s *Server) handleSelectDestination(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DepartureResult, error) {
	dest, _ := args["destination_id"].(string)
	if dest == "" {
		return DepartureResult{}, errors.New("destination_id is required")
	}
	if err := s.service.SelectDestination(ctx, dest); err != nil {
		s.logger.Info("MCP select_destination rejected", "destination", dest, "err", err)
		return DepartureResult{}, fmt.Errorf("select destination: %w", err)
	}
	return s.departure(ctx), nil
}

func (s *Server) handleCancelDeparture(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DepartureResult, error) {
	if err := s.service.CancelDeparture(ctx); err != nil {
		return DepartureResult{}, fmt.Errorf("cancel departure: %w", err)
	}
	return s.departure(ctx), nil
}

func (s *Server) departure(ctx context.Context) DepartureResult {
	status := s.service.Status(ctx)
	return DepartureResult{Intent: status.Intent, LastError: status.LastError}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(RegistryURI, "Route table",
		mcp.WithResourceDescription("Stations known to this node, with their last reported state"),
		mcp.WithMIMEType("application/json"),
	), s.readRegistry)
}

func (s *Server) readRegistry(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(s.service.Status(ctx).Stations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      RegistryURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
