package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func publicResolver(context.Context, string) ([]string, error) {
	return []string{"93.184.216.34"}, nil
}

func TestIsPrivateIP(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"172.20.0.1":      true,
		"192.168.1.10":    true,
		"169.254.169.254": true,
		"100.64.0.1":      true,
		"::1":             true,
		"fd00::1":         true,
		"::ffff:10.0.0.1": true,
		"0.0.0.0":         true,
		"8.8.8.8":         false,
		"2606:4700::1111": false,
	} {
		assert.Equal(t, want, IsPrivateIP(netip.MustParseAddr(addr)), addr)
	}
}

func TestIsDomainAllowed(t *testing.T) {
	allowed := []string{"docs.example.com", "*.wikipedia.org"}
	assert.True(t, IsDomainAllowed("DOCS.example.com", allowed))
	assert.True(t, IsDomainAllowed("en.wikipedia.org", allowed))
	assert.False(t, IsDomainAllowed("wikipedia.org", allowed))
	assert.False(t, IsDomainAllowed("example.com", allowed))
	assert.False(t, IsDomainAllowed("docs.example.com", nil))
}

func TestCheckSSRF(t *testing.T) {
	internal := func(context.Context, string) ([]string, error) {
		return []string{"93.184.216.34", "10.0.0.5"}, nil
	}
	assert.Error(t, CheckSSRF(context.Background(), internal, "mixed.example"))
	assert.NoError(t, CheckSSRF(context.Background(), publicResolver, "example.com"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "competitor pricing page")
	}))
	defer srv.Close()
	host := mustHost(t, srv.URL)

	tool := NewFetchTool(FetchConfig{AllowedDomains: []string{host}}, testLogger(), WithResolver(publicResolver))
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/pricing"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "competitor pricing page", res.Output)
	assert.Equal(t, false, res.Metadata["truncated"])
}

func TestFetchTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	tool := NewFetchTool(FetchConfig{AllowedDomains: []string{mustHost(t, srv.URL)}, MaxResponseBytes: 4}, testLogger(), WithResolver(publicResolver))
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "0123", res.Output)
	assert.Equal(t, true, res.Metadata["truncated"])
}

func TestFetchRejects(t *testing.T) {
	tool := NewFetchTool(FetchConfig{AllowedDomains: []string{"example.com", "127.0.0.1"}}, testLogger())
	tests := map[string]map[string]any{
		"missing url":    {},
		"bad scheme":     {"url": "file:///etc/passwd"},
		"not allowed":    {"url": "https://evil.test/"},
		"bad method":     {"url": "https://example.com/", "method": "POST"},
		"loopback by IP": {"url": "http://127.0.0.1/"},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tool.Execute(context.Background(), params)
			assert.Error(t, err)
		})
	}
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "habit tracker apps", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `{"results":[
			{"title":"Top habit apps","url":"https://a.example/1","content":"A roundup."},
			{"title":"Streaks","url":"https://b.example/2","content":""},
			{"title":"Third","url":"https://c.example/3"}
		]}`)
	}))
	defer srv.Close()

	tool := NewSearchTool(SearchConfig{BaseURL: srv.URL + "/"}, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{"query": "habit tracker apps", "max_results": float64(2)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "1. [Top habit apps](https://a.example/1)\n   A roundup.\n2. [Streaks](https://b.example/2)\n", res.Output)
	assert.Equal(t, 2, res.Metadata["results"])
}

func TestSearchNotConfigured(t *testing.T) {
	_, err := NewSearchTool(SearchConfig{}, testLogger()).Execute(context.Background(), map[string]any{"query": "x"})
	assert.Error(t, err)
}

func mustHost(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}
