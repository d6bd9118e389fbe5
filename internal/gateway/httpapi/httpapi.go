// Package httpapi serves the REST surface next to the live session channel:
// agent type discovery, session lifecycle, transcripts and usage history.
//
// Security:
//   - API key authentication on /v1 routes (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/gateway"
	"github.com/jkaninda/ideaflow/internal/observability"
	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/ratelimit"
	"github.com/jkaninda/ideaflow/internal/resolver"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	defaultAuditLimit     = 100
	maxAuditLimit         = 1000
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Empty = no authentication.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.
	RateLimit      ratelimit.Config

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry served on MetricsPath. Nil = no endpoint.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Backs /readyz.
	Metrics         *observability.MetricsCollector // HTTP request metrics.
	Tracer          *observability.TracerSetup      // HTTP server spans.
}

// Catalog is the agent type lookup the gateway needs.
type Catalog interface {
	ListAgentTypes(ctx context.Context) ([]domain.AgentType, error)
	AgentTypeByName(ctx context.Context, name string) (*domain.AgentType, error)
}

// ToolResolver resolves the tools offered to an agent type.
type ToolResolver interface {
	Resolve(ctx context.Context, agentTypeID uuid.UUID, enabledOnly bool) ([]resolver.ResolvedTool, error)
}

// SessionStarter opens new sessions.
type SessionStarter interface {
	Start(ctx context.Context, agentTypeName, title string) (*domain.Session, error)
}

// Sessions reads and moves sessions.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) (*domain.Session, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error)
}

// AuditHistory lists the recorded tool calls of a session.
type AuditHistory interface {
	History(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.UsageAuditRecord, error)
}

// Services are the domain collaborators behind the routes.
type Services struct {
	Catalog  Catalog
	Resolver ToolResolver
	Starter  SessionStarter
	Sessions Sessions
	Audit    AuditHistory
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	svc     Services
	auth    *gateway.Authenticator
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, svc Services, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Gateway{
		config:  cfg,
		svc:     svc,
		auth:    gateway.NewAuthenticator(cfg.APIKeys),
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithHandler mounts an additional GET handler at pattern, outside the
// authenticated group. The handler does its own authentication.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) withOpenAPIDocs() {
	g.okapi.WithOpenAPIDocs(okapi.OpenAPI{
		Title:   "Ideaflow",
		Version: "v1",
	})
}

// routes registers every endpoint. It runs once, from Start.
func (g *Gateway) routes() {
	maxBody := g.config.MaxRequestSize
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			}
			next.ServeHTTP(w, r)
		})
		return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, limited)
	})

	g.group = g.okapi.Group("/v1", g.guard)

	g.group.Get("/agent-types", g.handleListAgentTypes,
		okapi.DocSummary("List enabled agent types"),
		okapi.DocTags("Catalog"),
		okapi.DocResponse([]AgentTypeResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/agent-types/{name}/tools", g.handleAgentTypeTools,
		okapi.DocSummary("Resolve the tools offered to an agent type"),
		okapi.DocTags("Catalog"),
		okapi.DocPathParam("name", "string", "Agent type name"),
		okapi.DocResponse([]resolver.ResolvedTool{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	g.group.Post("/sessions", g.handleStartSession,
		okapi.DocSummary("Start a session"),
		okapi.DocTags("Sessions"),
		okapi.DocRequestBody(StartSessionRequest{}),
		okapi.DocResponse(http.StatusCreated, SessionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}", g.handleGetSession,
		okapi.DocSummary("Get a session"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}/messages", g.handleListMessages,
		okapi.DocSummary("List the transcript of a session, oldest first"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse([]protocol.MessageView{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Put("/sessions/{id}/status", g.handleUpdateStatus,
		okapi.DocSummary("Move a session along its lifecycle"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocRequestBody(UpdateStatusRequest{}),
		okapi.DocResponse(SessionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Get("/sessions/{id}/audit", g.handleAuditHistory,
		okapi.DocSummary("List tool usage of a session, newest first"),
		okapi.DocTags("Sessions"),
		okapi.DocPathParam("id", "string", "Session ID (UUID)"),
		okapi.DocResponse([]AuditRecordResponse{}),
	)

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)
	if g.config.MetricsRegistry != nil {
		g.okapi.HandleStd("GET", g.config.MetricsPath,
			promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.withOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()
	if g.limiter.Enabled() {
		go g.limiter.Run(ctx, time.Minute)
	}

	addr := g.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	g.mu.Lock()
	g.server = server
	g.mu.Unlock()

	g.logger.Info("http api gateway starting", slog.String("addr", addr))
	if err := g.okapi.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()
	if server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(server)
}

// guard authenticates the caller and applies its rate limit.
func (g *Gateway) guard(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		r := c.Request()
		keyID, ok := g.auth.Match(gateway.Token(r))
		if !ok {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		if err := g.limiter.Allow(gateway.ClientKey(r, keyID)); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
		c.Set("clientID", keyID)
		return next(c)
	}
}

// --- Catalog ---

// AgentTypeResponse is the public view of an agent type.
type AgentTypeResponse struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Model       string `json:"model"`
	Streaming   bool   `json:"streaming"`
	IsDefault   bool   `json:"isDefault"`
}

func (g *Gateway) handleListAgentTypes(c *okapi.Context) error {
	types, err := g.svc.Catalog.ListAgentTypes(c.Context())
	if err != nil {
		return g.fail(c, err)
	}
	resp := make([]AgentTypeResponse, 0, len(types))
	for _, at := range types {
		if !at.Enabled {
			continue
		}
		resp = append(resp, AgentTypeResponse{
			Name:        at.Name,
			Label:       at.Label,
			Description: at.Description,
			Avatar:      at.Avatar,
			Model:       at.Model,
			Streaming:   at.Streaming,
			IsDefault:   at.IsDefault,
		})
	}
	return c.OK(resp)
}

func (g *Gateway) handleAgentTypeTools(c *okapi.Context) error {
	at, err := g.svc.Catalog.AgentTypeByName(c.Context(), c.Param("name"))
	if err != nil {
		return g.fail(c, err)
	}
	enabledOnly := c.Query("enabled_only") != "false"
	tools, err := g.svc.Resolver.Resolve(c.Context(), at.ID, enabledOnly)
	if err != nil {
		return g.fail(c, err)
	}
	if tools == nil {
		tools = []resolver.ResolvedTool{}
	}
	return c.OK(tools)
}

// --- Sessions ---

// StartSessionRequest is the JSON body for POST /v1/sessions. An empty
// agent type selects the default one.
type StartSessionRequest struct {
	AgentType string `json:"agentType,omitempty"`
	Title     string `json:"title,omitempty"`
}

// SessionResponse is the public view of a session.
type SessionResponse struct {
	ID        string    `json:"id"`
	AgentType string    `json:"agentType"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateStatusRequest is the JSON body for PUT /v1/sessions/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func sessionView(s *domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID.String(),
		AgentType: s.AgentTypeName,
		Title:     s.Title,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (g *Gateway) handleStartSession(c *okapi.Context) error {
	var req StartSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.AbortBadRequest("invalid request body")
		}
	}
	sess, err := g.svc.Starter.Start(c.Context(), req.AgentType, req.Title)
	if err != nil {
		return g.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sessionView(sess))
}

func (g *Gateway) handleGetSession(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}
	sess, err := g.svc.Sessions.GetSession(c.Context(), id)
	if err != nil {
		return g.fail(c, err)
	}
	return c.OK(sessionView(sess))
}

func (g *Gateway) handleListMessages(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}
	limit, err := queryLimit(c.Query("limit"), 0, 0)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	if _, err := g.svc.Sessions.GetSession(c.Context(), id); err != nil {
		return g.fail(c, err)
	}
	msgs, err := g.svc.Sessions.ListMessages(c.Context(), id, limit)
	if err != nil {
		return g.fail(c, err)
	}
	resp := make([]protocol.MessageView, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, protocol.ViewOf(&msgs[i]))
	}
	return c.OK(resp)
}

func (g *Gateway) handleUpdateStatus(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	status := domain.SessionStatus(req.Status)
	if !status.Valid() {
		return c.AbortBadRequest("unknown status")
	}
	sess, err := g.svc.Sessions.UpdateStatus(c.Context(), id, status)
	if err != nil {
		return g.fail(c, err)
	}
	g.logger.Info("session status changed",
		slog.String("session_id", id.String()),
		slog.String("status", req.Status),
		slog.String("client_id", c.GetString("clientID")),
	)
	return c.OK(sessionView(sess))
}

// AuditRecordResponse is one tool invocation record.
type AuditRecordResponse struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	Result     string         `json:"result,omitempty"`
	Status     string         `json:"status"`
	Executed   bool           `json:"executed"`
	LatencyMs  int64          `json:"latencyMs"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (g *Gateway) handleAuditHistory(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}
	limit, err := queryLimit(c.Query("limit"), defaultAuditLimit, maxAuditLimit)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	recs, err := g.svc.Audit.History(c.Context(), id, limit)
	if err != nil {
		return g.fail(c, err)
	}
	resp := make([]AuditRecordResponse, 0, len(recs))
	for _, r := range recs {
		resp = append(resp, AuditRecordResponse{
			ID:         r.ID.String(),
			ToolName:   r.ToolName,
			Parameters: r.Parameters,
			Result:     r.Result,
			Status:     string(r.Status),
			Executed:   r.Executed,
			LatencyMs:  r.LatencyMs,
			CreatedAt:  r.CreatedAt,
		})
	}
	return c.OK(resp)
}

// queryLimit parses a limit parameter. An empty value yields def; ceiling caps
// the result when positive.
func queryLimit(raw string, def, ceiling int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}

// --- Health ---

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: observability.StatusOK})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != observability.StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// fail maps a domain error to a status code. Infrastructure details stay in
// the log.
func (g *Gateway) fail(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, ErrorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalid):
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
	}
	g.logger.ErrorContext(c.Context(), "request failed",
		slog.String("path", c.Request().URL.Path),
		slog.String("error", err.Error()),
	)
	return c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal error"})
}
