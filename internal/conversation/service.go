package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/domain"
)

// Service opens sessions against the catalog.
type Service struct {
	store   Store
	catalog catalog.Reader
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, c catalog.Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, catalog: c, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Start opens an active session bound to agentTypeName, or to the default
// agent type when the name is empty.
func (s *Service) Start(ctx context.Context, agentTypeName, title string) (*domain.Session, error) {
	var (
		at  *domain.AgentType
		err error
	)
	if agentTypeName = strings.TrimSpace(agentTypeName); agentTypeName == "" {
		at, err = s.catalog.DefaultAgentType(ctx)
	} else {
		at, err = s.catalog.AgentTypeByName(ctx, agentTypeName)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.Infrastructure("loading agent type", err)
	}
	if !at.Enabled {
		return nil, domain.NotFound("agent type", at.Name)
	}
	if title == "" {
		title = at.Label
	}

	sess := &domain.Session{
		AgentTypeID:   at.ID,
		AgentTypeName: at.Name,
		Title:         title,
		Status:        domain.SessionActive,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, domain.Infrastructure("creating session", err)
	}
	s.logger.InfoContext(ctx, "session started",
		slog.String("session_id", sess.ID.String()),
		slog.String("agent_type", at.Name),
	)
	return sess, nil
}
