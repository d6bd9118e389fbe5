// Package ws serves the live session channel: one WebSocket connection drives
// one stored conversation through the relay.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/gateway"
	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/ratelimit"
	"github.com/jkaninda/ideaflow/internal/relay"
)

const (
	defaultHeartbeat     = 30 * time.Second
	defaultStaleAfter    = 30 * time.Minute
	defaultMaxFrameBytes = 64 << 10
	writeTimeout         = 10 * time.Second
	outboundBuffer       = 64
)

// Conversation is the live side of a session as the connection sees it.
type Conversation interface {
	HandleFrame(ctx context.Context, data []byte) error
	AwaitingSince() time.Time
	Close()
}

// Attacher opens a Conversation on a stored session.
type Attacher interface {
	Attach(ctx context.Context, sessionID uuid.UUID, out chan<- *protocol.Envelope) (Conversation, error)
}

// Metrics receives connection counters.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordClientError(code string)
}

// Config configures the live channel.
type Config struct {
	HeartbeatInterval  time.Duration    // 0 = 30s.
	InteractionTimeout time.Duration    // 0 = 30m.
	MaxFrameBytes      int64            // 0 = 64 KiB.
	RateLimit          ratelimit.Config // Per connection.
}

// Server upgrades requests and runs one connection per live session.
type Server struct {
	attacher Attacher
	auth     *gateway.Authenticator
	limiter  *ratelimit.Limiter
	metrics  Metrics
	cfg      Config
	logger   *slog.Logger

	mu   sync.Mutex
	live map[uuid.UUID]struct{}
}

// NewServer creates a Server. auth may be nil for an open endpoint.
func NewServer(attacher Attacher, auth *gateway.Authenticator, cfg Config, logger *slog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.InteractionTimeout <= 0 {
		cfg.InteractionTimeout = defaultStaleAfter
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		attacher: attacher,
		auth:     auth,
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		cfg:      cfg,
		logger:   logger,
		live:     make(map[uuid.UUID]struct{}),
	}
}

// WithMetrics enables connection metrics.
func (s *Server) WithMetrics(m Metrics) *Server {
	s.metrics = m
	return s
}

// IsLive reports whether a connection is attached to the session.
func (s *Server) IsLive(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

// Handler returns the upgrade handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; ok {
		return false
	}
	s.live[id] = struct{}{}
	return true
}

func (s *Server) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.auth.Match(gateway.Token(r)); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "session_id must be a UUID", http.StatusBadRequest)
		return
	}

	// One connection per session keeps turns strictly sequential.
	if !s.claim(sessionID) {
		http.Error(w, "session already has a live connection", http.StatusConflict)
		return
	}
	defer s.release(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan *protocol.Envelope, outboundBuffer)
	conv, err := s.attacher.Attach(ctx, sessionID, out)
	if err != nil {
		code, msg := attachStatus(err)
		if code == http.StatusInternalServerError {
			s.logger.ErrorContext(ctx, "attach failed",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()),
			)
		}
		http.Error(w, msg, code)
		return
	}
	defer conv.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "websocket accept failed", slog.String("error", err.Error()))
		return
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol "+protocol.Subprotocol+" required")
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}

	c := &connection{
		server:    s,
		conn:      conn,
		conv:      conv,
		sessionID: sessionID,
		out:       out,
		logger:    s.logger.With(slog.String("session_id", sessionID.String())),
	}
	c.run(ctx, cancel)
}

func attachStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, relay.ErrSessionClosed):
		return http.StatusConflict, "session is closed"
	default:
		return http.StatusInternalServerError, "could not open session"
	}
}

// connection runs the goroutines of one socket: a reader feeding inbound
// frames, a driver handling them one at a time, a writer draining out and a
// heartbeat that also enforces the interaction timeout.
type connection struct {
	server    *Server
	conn      *websocket.Conn
	conv      Conversation
	sessionID uuid.UUID
	out       chan *protocol.Envelope
	logger    *slog.Logger

	closeOnce sync.Once
}

func (c *connection) run(ctx context.Context, cancel context.CancelFunc) {
	c.logger.InfoContext(ctx, "live connection opened")
	inbound := make(chan []byte)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); defer cancel(); c.read(ctx, inbound) }()
	go func() { defer wg.Done(); defer cancel(); c.write(ctx) }()
	go func() { defer wg.Done(); c.heartbeat(ctx, cancel) }()

	c.drive(ctx, inbound)
	cancel()
	wg.Wait()
	c.close(websocket.StatusNormalClosure, "")
	c.server.limiter.Forget(c.sessionID.String())
	c.logger.Info("live connection closed")
}

func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() { _ = c.conn.Close(code, reason) })
}

func (c *connection) read(ctx context.Context, inbound chan<- []byte) {
	defer close(inbound)
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.logger.Debug("read ended", slog.String("error", err.Error()))
			}
			return
		}
		if typ != websocket.MessageText {
			c.reject(ctx, protocol.CodeInvalidFrame, "frames must be text")
			continue
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) drive(ctx context.Context, inbound <-chan []byte) {
	key := c.sessionID.String()
	for data := range inbound {
		if err := c.server.limiter.Allow(key); err != nil {
			c.reject(ctx, protocol.CodeRateLimited, "Too many messages. Slow down and try again.")
			continue
		}
		// Errors were already reported to the client as events.
		_ = c.conv.HandleFrame(ctx, data)
		if ctx.Err() != nil {
			return
		}
	}
}

// reject sends an error event produced by the channel itself.
func (c *connection) reject(ctx context.Context, code, msg string) {
	if m := c.server.metrics; m != nil {
		m.RecordClientError(code)
	}
	env, err := protocol.NewEnvelope(protocol.EventError, protocol.ErrorPayload{Message: msg, Code: code})
	if err != nil {
		return
	}
	env.SessionID = c.sessionID.String()
	select {
	case c.out <- env:
	case <-ctx.Done():
	}
}

func (c *connection) write(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.out:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("encoding event failed", slog.String("error", err.Error()))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (c *connection) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.server.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if since := c.conv.AwaitingSince(); !since.IsZero() && time.Since(since) > c.server.cfg.InteractionTimeout {
			c.logger.InfoContext(ctx, "closing stale connection",
				slog.Duration("awaiting_for", time.Since(since)),
			)
			c.close(websocket.StatusPolicyViolation, "interaction timed out")
			cancel()
			return
		}

		env, err := protocol.NewEnvelope(protocol.EventPing, nil)
		if err != nil {
			continue
		}
		env.SessionID = c.sessionID.String()
		select {
		case c.out <- env:
		case <-ctx.Done():
			return
		}
	}
}
