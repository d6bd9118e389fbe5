// Package config handles loading and validating ideaflow configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for ideaflow.
type Config struct {
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // debug, info, warn, error. Default: info.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Default: ~/.ideaflow/data. Override: IDEAFLOW_DATA_DIR.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite under DataDir.
	Catalog       CatalogConfig        `json:"catalog" yaml:"catalog"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	WebSocket     WebSocketConfig      `json:"websocket" yaml:"websocket"`
	Relay         RelayConfig          `json:"relay" yaml:"relay"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Audit         AuditConfig          `json:"audit" yaml:"audit"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics and tracing disabled.
	Maintenance   *MaintenanceConfig   `json:"maintenance,omitempty" yaml:"maintenance,omitempty"`     // nil = defaults, enabled.
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default), "postgres" or "memory".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/ideaflow.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // Default: wal.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: IDEAFLOW_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// ConnMaxLifetime returns the pool connection lifetime. Zero keeps the driver default.
func (p *PostgresStorageConfig) ConnMaxLifetime() time.Duration {
	if p == nil {
		return 0
	}
	return time.Duration(p.ConnMaxLifetimeS) * time.Second
}

// CatalogConfig points at a seed file applied on startup.
type CatalogConfig struct {
	SeedFile string `json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
}

// ProvidersConfig selects and configures model providers. Agent types name a
// model; the model prefix picks the provider, anything unmatched goes to Default.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"` // "anthropic", "openai" or "ollama". Empty = "anthropic".
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
	Breaker   *BreakerConfig  `json:"breaker,omitempty" yaml:"breaker,omitempty"` // nil = default breaker.
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Default: https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Default: http://localhost:11434.
}

// OllamaBaseURL returns the Ollama endpoint.
func (o OllamaConfig) OllamaBaseURL() string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return "http://localhost:11434"
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	Disabled        bool   `json:"disabled" yaml:"disabled"`
	MaxFailures     uint32 `json:"max_failures" yaml:"max_failures"`         // Default: 5.
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds"`   // Open state duration. Default: 30.
	IntervalSeconds int    `json:"interval_seconds" yaml:"interval_seconds"` // Default: 60.
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // Empty = no authentication.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxBodyBytes returns the request body cap with a default of 1 MB.
func (h *HTTPConfig) MaxBodyBytes() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 1 << 20
}

// WebSocketConfig configures the live session channel.
type WebSocketConfig struct {
	Path                      string          `json:"path" yaml:"path"`                                               // Default: "/v1/ws".
	HeartbeatIntervalSeconds  int             `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`   // Default: 30.
	InteractionTimeoutSeconds int             `json:"interaction_timeout_seconds" yaml:"interaction_timeout_seconds"` // Default: 1800.
	RateLimit                 RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`                                   // Frames per connection.
}

// WSPath returns the WebSocket path with a default of "/v1/ws".
func (w *WebSocketConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/v1/ws"
}

// HeartbeatInterval returns the ping interval with a default of 30s.
func (w *WebSocketConfig) HeartbeatInterval() time.Duration {
	if w != nil && w.HeartbeatIntervalSeconds > 0 {
		return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// InteractionTimeout returns how long a connection may await an answer
// before it is closed as stale. Default: 30 minutes.
func (w *WebSocketConfig) InteractionTimeout() time.Duration {
	if w != nil && w.InteractionTimeoutSeconds > 0 {
		return time.Duration(w.InteractionTimeoutSeconds) * time.Second
	}
	return 30 * time.Minute
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// RelayConfig tunes turn execution.
type RelayConfig struct {
	MaxToolRounds      int `json:"max_tool_rounds" yaml:"max_tool_rounds"`           // Default: 8.
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"` // Default: 60.
	FlushSize          int `json:"flush_size" yaml:"flush_size"`                     // Text bytes before a paragraph break flushes a block. Default: 400.
}

// ToolTimeout returns the per-call timeout. Zero lets the relay decide.
func (r RelayConfig) ToolTimeout() time.Duration {
	return time.Duration(r.ToolTimeoutSeconds) * time.Second
}

// ToolsConfig configures the builtin tools. A nil section leaves the tool
// out of the registry.
type ToolsConfig struct {
	Plan                  bool                `json:"plan" yaml:"plan"` // create_plan.
	Web                   *WebToolConfig      `json:"web,omitempty" yaml:"web,omitempty"`
	Search                *SearchToolConfig   `json:"search,omitempty" yaml:"search,omitempty"`
	Shell                 *ShellToolConfig    `json:"shell,omitempty" yaml:"shell,omitempty"`
	Database              *DatabaseToolConfig `json:"database,omitempty" yaml:"database,omitempty"`
	MCP                   []MCPServerConfig   `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	WebhookTimeoutSeconds int                 `json:"webhook_timeout_seconds" yaml:"webhook_timeout_seconds"` // custom tools. Default: 30.
}

// WebhookTimeout returns the custom tool HTTP timeout.
func (t ToolsConfig) WebhookTimeout() time.Duration {
	if t.WebhookTimeoutSeconds > 0 {
		return time.Duration(t.WebhookTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// WebToolConfig restricts web_fetch to specific domains.
type WebToolConfig struct {
	AllowedDomains   []string `json:"allowed_domains" yaml:"allowed_domains"`
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// SearchToolConfig points web_search at a SearXNG-compatible API.
type SearchToolConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"` // Override: IDEAFLOW_SEARCH_URL.
	MaxResults     int    `json:"max_results" yaml:"max_results"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Language       string `json:"language,omitempty" yaml:"language,omitempty"`
}

// ShellToolConfig configures the sandboxed bash tool.
type ShellToolConfig struct {
	Workspace           string `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Root for the workdir parameter.
	MaxExecutionSeconds int    `json:"max_execution_seconds" yaml:"max_execution_seconds"`
	MaxMemoryMB         int    `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUSeconds       int    `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`
}

// DatabaseToolConfig configures the read-only query_database tool.
type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"` // Override: IDEAFLOW_TOOL_DB_DSN.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// MCPServerConfig defines one external MCP server. Its tools are registered
// as integration tools named mcp__<name>__<tool>.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"`                   // "stdio", "sse" or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`   // stdio only.
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`         // stdio only.
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`           // stdio only. Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`           // sse and streamable_http.
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`   // Values support ${VAR} expansion.
	Category  string            `json:"category,omitempty" yaml:"category,omitempty"` // Catalog category. Default: "integration".
}

// AuditConfig configures the usage audit mirror.
type AuditConfig struct {
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"` // JSONL mirror. Empty = store only.
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsEnabled reports whether Prometheus metrics are served.
func (o *ObservabilityConfig) MetricsEnabled() bool {
	return o != nil && o.Metrics != nil && o.Metrics.Enabled
}

// TracingEnabled reports whether spans are exported.
func (o *ObservabilityConfig) TracingEnabled() bool {
	return o != nil && o.Tracing != nil && o.Tracing.Enabled
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// MetricsPath returns the scrape path.
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317".
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc".
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ideaflow".
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0.
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// AnomalyConfig configures error-rate warnings over a sliding window.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors.
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Default: 300.
}

// MaintenanceConfig configures the session housekeeping job.
type MaintenanceConfig struct {
	Disabled          bool   `json:"disabled" yaml:"disabled"`
	Schedule          string `json:"schedule" yaml:"schedule"`                       // Cron expression. Default: "@every 5m".
	IdleAfterMinutes  int    `json:"idle_after_minutes" yaml:"idle_after_minutes"`   // Active -> paused. Default: 60.
	ArchiveAfterHours int    `json:"archive_after_hours" yaml:"archive_after_hours"` // Completed -> archived. Default: 720.
}

// Enabled reports whether the job runs. A nil section means enabled.
func (m *MaintenanceConfig) Enabled() bool {
	return m == nil || !m.Disabled
}

// CronSchedule returns the job schedule.
func (m *MaintenanceConfig) CronSchedule() string {
	if m != nil && m.Schedule != "" {
		return m.Schedule
	}
	return "@every 5m"
}

// IdleAfter returns how long an active session may sit untouched.
func (m *MaintenanceConfig) IdleAfter() time.Duration {
	if m != nil && m.IdleAfterMinutes > 0 {
		return time.Duration(m.IdleAfterMinutes) * time.Minute
	}
	return time.Hour
}

// ArchiveAfter returns how long a completed session is kept before archiving.
func (m *MaintenanceConfig) ArchiveAfter() time.Duration {
	if m != nil && m.ArchiveAfterHours > 0 {
		return time.Duration(m.ArchiveAfterHours) * time.Hour
	}
	return 30 * 24 * time.Hour
}

// DefaultConfigPath returns the default config file path (~/.ideaflow/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/ideaflow.yaml"
	}
	return filepath.Join(home, ".ideaflow", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	cfg, err := Parse(data, filepath.Ext(resolved))
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", resolved, err)
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return cfg, nil
}

// Parse decodes a config document without environment overrides or
// validation. ext selects the format as in Load.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decoding YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decoding JSON: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("IDEAFLOW_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("IDEAFLOW_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("IDEAFLOW_TOOL_DB_DSN"); v != "" {
		if c.Tools.Database == nil {
			c.Tools.Database = &DatabaseToolConfig{}
		}
		c.Tools.Database.DSN = v
	}
	if v := os.Getenv("IDEAFLOW_SEARCH_URL"); v != "" {
		if c.Tools.Search == nil {
			c.Tools.Search = &SearchToolConfig{}
		}
		c.Tools.Search.BaseURL = v
	}
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".ideaflow", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "ideaflow.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}

	switch c.StorageDriverName() {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set IDEAFLOW_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres or memory)", c.Storage.Driver)
	}

	if c.Relay.MaxToolRounds < 0 {
		return fmt.Errorf("relay.max_tool_rounds must not be negative")
	}
	if c.Relay.FlushSize < 0 {
		return fmt.Errorf("relay.flush_size must not be negative")
	}
	if r := c.HTTP.RateLimit; r.RequestsPerMinute < 0 || r.BurstSize < 0 {
		return fmt.Errorf("http.rate_limit values must not be negative")
	}
	if r := c.WebSocket.RateLimit; r.RequestsPerMinute < 0 || r.BurstSize < 0 {
		return fmt.Errorf("websocket.rate_limit values must not be negative")
	}
	if !strings.HasPrefix(c.WebSocket.WSPath(), "/") {
		return fmt.Errorf("websocket.path must start with /")
	}
	if s := c.Tools.Search; s != nil && s.BaseURL == "" {
		return fmt.Errorf("tools.search.base_url is required (set IDEAFLOW_SEARCH_URL env var)")
	}
	if d := c.Tools.Database; d != nil && d.DSN == "" {
		return fmt.Errorf("tools.database.dsn is required (set IDEAFLOW_TOOL_DB_DSN env var)")
	}
	if sh := c.Tools.Shell; sh != nil && (sh.MaxMemoryMB < 0 || sh.MaxExecutionSeconds < 0 || sh.MaxCPUSeconds < 0) {
		return fmt.Errorf("tools.shell limits must not be negative")
	}
	if t := c.Observability; t.TracingEnabled() && t.Tracing.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
	}

	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}

// validateProvider checks that the default provider is usable.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic, openai, or ollama)", c.Providers.Default)
	}
	return nil
}
