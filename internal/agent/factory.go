// Package agent builds the per-session handles that bind an agent type's
// model configuration to its resolved tool set.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/resolver"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// Factory creates Handles. It keeps no per-session state.
type Factory struct {
	catalog  catalog.Reader
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(c catalog.Reader, r *resolver.Resolver, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{catalog: c, resolver: r, logger: logger}
}

// CreateHandle resolves the named agent type and its enabled tools into a
// Handle. A missing or disabled agent type is a NotFoundError.
func (f *Factory) CreateHandle(ctx context.Context, agentTypeName string) (*Handle, error) {
	at, err := f.catalog.AgentTypeByName(ctx, agentTypeName)
	if err != nil {
		return nil, lookupErr(err)
	}
	return f.build(ctx, at)
}

// HandleByID is CreateHandle for the agent type with the given ID, which is
// what a session is bound to.
func (f *Factory) HandleByID(ctx context.Context, id uuid.UUID) (*Handle, error) {
	at, err := f.catalog.AgentTypeByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err)
	}
	return f.build(ctx, at)
}

// DefaultHandle is CreateHandle for the default agent type.
func (f *Factory) DefaultHandle(ctx context.Context) (*Handle, error) {
	at, err := f.catalog.DefaultAgentType(ctx)
	if err != nil {
		return nil, lookupErr(err)
	}
	return f.build(ctx, at)
}

func (f *Factory) build(ctx context.Context, at *domain.AgentType) (*Handle, error) {
	if !at.Enabled {
		return nil, domain.NotFound("agent type", at.Name)
	}
	tools, err := f.resolver.Resolve(ctx, at.ID, true)
	if err != nil {
		return nil, fmt.Errorf("resolving tools for %s: %w", at.Name, err)
	}

	schemas := make(map[string]*toolschema.Schema, len(tools))
	for _, t := range tools {
		s, err := toolschema.Compile(t.Parameters)
		if err != nil {
			// Stored schemas are validated on write; a failure here means the
			// specialization produced something the validator rejects.
			f.logger.Warn("skipping call-time validation for tool",
				slog.String("agent_type", at.Name),
				slog.String("tool", t.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		schemas[t.Name] = s
	}

	f.logger.Debug("session handle created",
		slog.String("agent_type", at.Name),
		slog.String("model", at.Model),
		slog.Int("tools", len(tools)),
	)
	return &Handle{
		agentTypeID:   at.ID,
		agentTypeName: at.Name,
		model:         at.Model,
		systemPrompt:  at.SystemPrompt,
		temperature:   at.Temperature,
		streaming:     at.Streaming,
		contextLimit:  at.ContextLimit,
		maxTokens:     at.MaxTokens,
		tools:         tools,
		schemas:       schemas,
	}, nil
}

func lookupErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.Infrastructure("loading agent type", err)
}
