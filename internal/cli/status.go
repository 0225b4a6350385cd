package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/aretw0/railhub/internal/presentation/graph"
	"github.com/aretw0/railhub/internal/presentation/tui"
	"github.com/aretw0/railhub/pkg/domain"
)

// Output formats of the status command.
const (
	FormatMarkdown = "markdown"
	FormatGraph    = "graph"
	FormatJSON     = "json"
)

// FetchStatus reads the status of the node serving its API at baseURL.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (domain.NodeStatus, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := strings.TrimRight(normalizeURL(baseURL), "/") + "/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NodeStatus{}, fmt.Errorf("failed to build status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.NodeStatus{}, fmt.Errorf("failed to reach node at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.NodeStatus{}, fmt.Errorf("node answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var status domain.NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.NodeStatus{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

// RenderStatus writes status to w in the given format.
// Markdown is styled with glamour only when w is a terminal.
func RenderStatus(w io.Writer, status domain.NodeStatus, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case FormatGraph:
		_, err := fmt.Fprintln(w, graph.GenerateMermaid(status))
		return err
	case FormatMarkdown, "":
		md := tui.StatusMarkdown(status)
		if width, ok := terminalWidth(w); ok {
			out, err := tui.NewRenderer(width)(md)
			if err == nil {
				md = out
			}
		}
		_, err := fmt.Fprint(w, md)
		return err
	default:
		return fmt.Errorf("unknown format %q (supported: markdown, graph, json)", format)
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) (int, bool) {
	if !IsTerminal(w) {
		return 0, false
	}
	width, _, err := term.GetSize(int(w.(*os.File).Fd()))
	if err != nil {
		return 0, true
	}
	return width, true
}

// normalizeURL accepts a bare listen address such as ":8080".
func normalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
