package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/ideaflow/internal/tools"
)

// SearchConfig points web_search at a SearXNG-compatible instance.
type SearchConfig struct {
	BaseURL        string // e.g. http://searxng:8080
	MaxResults     int    // 0 = 5.
	TimeoutSeconds int    // 0 = 10s.
	Language       string
}

const (
	defaultMaxResults = 5
	maxSearchResults  = 20
	maxSearchBody     = 2 << 20
)

// SearchTool queries the configured search API with format=json.
// The base URL is operator configuration, so it is not SSRF-checked.
type SearchTool struct {
	config SearchConfig
	client *http.Client
	logger *slog.Logger
}

var _ tools.Tool = (*SearchTool)(nil)

func NewSearchTool(cfg SearchConfig, logger *slog.Logger) *SearchTool {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	return &SearchTool{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		logger: logger,
	}
}

func (t *SearchTool) Name() string { return "web_search" }
func (t *SearchTool) Description() string {
	return "Search the web and return the top results with titles, links and snippets"
}
func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string", "description": "Search terms"},
			"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": maxSearchResults, "description": "Number of results to return"},
			"time_range":  map[string]any{"type": "string", "enum": []any{"day", "month", "year"}, "description": "Restrict results to a recent period"},
		},
		"required": []any{"query"},
	}
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Engine  string `json:"engine"`
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if t.config.BaseURL == "" {
		return nil, fmt.Errorf("web search is not configured")
	}
	query, err := tools.StringParam(params, "query")
	if err != nil {
		return nil, err
	}
	limit := tools.IntParam(params, "max_results", t.config.MaxResults)
	limit = min(max(limit, 1), maxSearchResults)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	if tr, ok := params["time_range"].(string); ok && tr != "" {
		q.Set("time_range", tr)
	}
	if t.config.Language != "" {
		q.Set("language", t.config.Language)
	}
	endpoint := strings.TrimRight(t.config.BaseURL, "/") + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	t.logger.InfoContext(ctx, "web_search executing",
		slog.String("query", query),
		slog.Int("max_results", limit),
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &tools.Result{
			Output:   fmt.Sprintf("search backend returned status %d", resp.StatusCode),
			Metadata: map[string]any{"status_code": resp.StatusCode},
		}, nil
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	results := sr.Results
	if len(results) > limit {
		results = results[:limit]
	}

	return &tools.Result{
		Output:   formatResults(query, results),
		Success:  true,
		Metadata: map[string]any{"results": len(results)},
	}, nil
}

func formatResults(query string, results []searchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, strings.TrimSpace(r.Title), r.URL)
		if c := strings.TrimSpace(r.Content); c != "" {
			fmt.Fprintf(&sb, "   %s\n", c)
		}
	}
	return sb.String()
}
