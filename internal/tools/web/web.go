// Package web implements the web_fetch and web_search builtins.
//
// web_fetch only reaches allowlisted domains. Every request and redirect is
// resolved first and refused when it lands on an internal address; response
// bodies are capped and only GET and HEAD are allowed.
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/ideaflow/internal/tools"
)

// FetchConfig configures the web_fetch tool.
type FetchConfig struct {
	AllowedDomains   []string // Empty denies every request.
	MaxResponseBytes int64    // 0 = 5 MB.
	TimeoutSeconds   int      // 0 = 10s.
}

const (
	defaultMaxResponseBytes = 5 << 20
	defaultTimeoutSeconds   = 10
	maxRedirects            = 5
)

// FetchTool fetches pages within the configured allowlist.
type FetchTool struct {
	config FetchConfig
	lookup HostResolver
	logger *slog.Logger
}

var _ tools.Tool = (*FetchTool)(nil)

// FetchOption configures a FetchTool.
type FetchOption func(*FetchTool)

// WithResolver replaces DNS resolution for the SSRF check.
func WithResolver(r HostResolver) FetchOption {
	return func(t *FetchTool) { t.lookup = r }
}

func NewFetchTool(cfg FetchConfig, logger *slog.Logger, opts ...FetchOption) *FetchTool {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	t := &FetchTool{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FetchTool) Name() string { return "web_fetch" }
func (t *FetchTool) Description() string {
	return "Fetch the content of a web page from an allowed site"
}
func (t *FetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "The URL to fetch (http or https)"},
			"method": map[string]any{"type": "string", "enum": []any{"GET", "HEAD"}, "description": "HTTP method. Defaults to GET"},
		},
		"required": []any{"url"},
	}
}

func (t *FetchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	target, method, err := t.parse(params)
	if err != nil {
		return nil, err
	}
	if err := CheckSSRF(ctx, t.lookup, target.Hostname()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.config.TimeoutSeconds)*time.Second)
	defer cancel()

	client := &http.Client{CheckRedirect: t.checkRedirect}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "ideaflow/1.0")

	t.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("method", method),
		slog.String("url", target.String()),
	)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := t.config.MaxResponseBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(body), tools.MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 400,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"url":          resp.Request.URL.String(),
			"content_type": resp.Header.Get("Content-Type"),
			"truncated":    truncated,
		},
	}, nil
}

func (t *FetchTool) parse(params map[string]any) (*url.URL, string, error) {
	raw, err := tools.StringParam(params, "url")
	if err != nil {
		return nil, "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("only http/https schemes allowed, got %q", u.Scheme)
	}
	if !IsDomainAllowed(u.Hostname(), t.config.AllowedDomains) {
		return nil, "", fmt.Errorf("domain %q is not in the allowlist", u.Hostname())
	}

	method := http.MethodGet
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, "", fmt.Errorf("only GET and HEAD methods allowed, got %q", method)
	}
	return u, method, nil
}

// checkRedirect applies the allowlist and SSRF check to every hop.
func (t *FetchTool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	host := req.URL.Hostname()
	if !IsDomainAllowed(host, t.config.AllowedDomains) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}
	return CheckSSRF(req.Context(), t.lookup, host)
}
