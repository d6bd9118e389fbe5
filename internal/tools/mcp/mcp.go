// Package mcp bridges tools served by external MCP (Model Context Protocol)
// servers into the registry as integration tools named
// "mcp__<server>__<tool>". They are assigned to agent types and gated like
// any other catalog tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/ideaflow/internal/config"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/tools"
)

const clientVersion = "1.0.0"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Tool adapts one tool discovered on an MCP server.
type Tool struct {
	name         string
	description  string
	schema       map[string]any
	category     string
	client       mcpclient.MCPClient
	originalName string
	server       string
	logger       *slog.Logger
}

var _ tools.Tool = (*Tool)(nil)

func (t *Tool) Name() string                { return t.name }
func (t *Tool) Description() string         { return t.description }
func (t *Tool) InputSchema() map[string]any { return t.schema }

// Server returns the name of the MCP server the tool lives on.
func (t *Tool) Server() string { return t.server }

// CatalogEntry returns the integration catalog record for the tool.
func (t *Tool) CatalogEntry() *domain.Tool {
	return tools.CatalogEntry(t, domain.SourceIntegration, t.category)
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.server),
		slog.String("tool", t.originalName),
	)

	req := mcp.CallToolRequest{}
	req.Params.Name = t.originalName
	req.Params.Arguments = params

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", t.server, t.originalName, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(contentText(res.Content), tools.MaxOutputBytes),
		Success: !res.IsError,
		Metadata: map[string]any{
			"mcp_server":    t.server,
			"mcp_tool":      t.originalName,
			"content_items": len(res.Content),
		},
	}, nil
}

// contentText joins text content; other content kinds are rendered as JSON.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}

// Bridge owns the MCP client connections.
type Bridge struct {
	mu      sync.Mutex
	clients []mcpclient.MCPClient
	logger  *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// ConnectAndDiscover connects to one configured server and returns its tools.
func (b *Bridge) ConnectAndDiscover(ctx context.Context, cfg config.MCPServerConfig) ([]*Tool, error) {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}
	found, err := b.Attach(ctx, cfg.Name, cfg.Category, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(found)),
	)
	return found, nil
}

// Attach performs the initialize handshake on a started client and lists
// its tools. The bridge closes the client on Close.
func (b *Bridge) Attach(ctx context.Context, server, category string, c mcpclient.MCPClient) ([]*Tool, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "ideaflow", Version: clientVersion}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", server, err)
	}

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", server, err)
	}

	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()

	if category == "" {
		category = "integration"
	}
	out := make([]*Tool, 0, len(list.Tools))
	for _, mt := range list.Tools {
		name := ToolName(server, mt.Name)
		if !domain.ValidToolName(name) {
			b.logger.Warn("skipping MCP tool with unusable name",
				slog.String("server", server),
				slog.String("tool", mt.Name),
			)
			continue
		}
		out = append(out, &Tool{
			name:         name,
			description:  fmt.Sprintf("[%s] %s", server, mt.Description),
			schema:       inputSchema(mt.InputSchema),
			category:     category,
			client:       c,
			originalName: mt.Name,
			server:       server,
			logger:       b.logger,
		})
	}
	return out, nil
}

// Close shuts down every client connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
	b.clients = nil
}

// ToolName namespaces an MCP tool name by server.
func ToolName(server, tool string) string {
	return "mcp__" + invalidNameChars.ReplaceAllString(server, "_") + "__" + invalidNameChars.ReplaceAllString(tool, "_")
}

func newClient(ctx context.Context, cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	var (
		c   *mcpclient.Client
		err error
	)
	switch cfg.Transport {
	case "stdio":
		// The stdio client starts its subprocess itself.
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnv(cfg.Headers)))
		}
		c, err = mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnv(cfg.Headers)))
		}
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting transport: %w", err)
	}
	return c, nil
}

func inputSchema(s mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if s.Properties != nil {
		out["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		out["required"] = req
	}
	return out
}

func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func expandEnv(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
