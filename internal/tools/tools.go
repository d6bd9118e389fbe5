// Package tools defines the executor interface behind catalog tools and the
// registry the relay looks executors up in. Builtin and MCP tools register
// by name; custom tools are webhooks built from their catalog endpoint.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/resolver"
)

// Tool is implemented by every executable tool.
type Tool interface {
	// Name returns the catalog name (e.g. "create_plan").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns the JSON Schema of the tool's parameters. It seeds
	// the catalog record; the resolver specializes it per agent type.
	InputSchema() map[string]any

	// Execute runs the tool. Parameters have already passed permission checks
	// and schema validation.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes is the default cap for tool output.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// StringParam extracts a required, non-empty string parameter.
func StringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}

// IntParam reads an optional numeric parameter. JSON numbers decode as float64.
func IntParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Registry holds executors keyed by name.
// Safe for concurrent reads; registration happens at startup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	client *http.Client
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithWebhookClient sets the HTTP client used by custom tools.
func WithWebhookClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.client = c }
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]Tool),
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// Lookup returns the executor for a resolved tool. Custom tools with an
// endpoint get a webhook; everything else must be registered.
func (r *Registry) Lookup(t resolver.ResolvedTool) (Tool, error) {
	if t.Source == domain.SourceCustom && t.Endpoint != "" {
		return NewWebhook(t.Name, t.Description, t.Endpoint, r.client, r.logger), nil
	}
	if tool := r.Get(t.Name); tool != nil {
		return tool, nil
	}
	return nil, domain.NotFound("tool executor", t.Name)
}

// CatalogEntry describes a registered tool as a catalog record, used to seed
// builtin and integration tools.
func CatalogEntry(t Tool, source domain.ToolSource, category string) *domain.Tool {
	return &domain.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    category,
		Source:      source,
		Parameters:  t.InputSchema(),
		Enabled:     true,
	}
}
