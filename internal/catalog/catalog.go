// Package catalog stores tools, agent types and the assignments linking them.
package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// Reader is the read side used by the resolver and the session factory.
// Every call observes committed state only.
type Reader interface {
	AgentTypeByID(ctx context.Context, id uuid.UUID) (*domain.AgentType, error)
	AgentTypeByName(ctx context.Context, name string) (*domain.AgentType, error)
	DefaultAgentType(ctx context.Context) (*domain.AgentType, error)
	ToolByName(ctx context.Context, name string) (*domain.Tool, error)

	// Bindings returns every assignment of the agent type joined with its
	// tool, read as one snapshot. Order is unspecified.
	Bindings(ctx context.Context, agentTypeID uuid.UUID) ([]domain.Binding, error)

	// Binding returns the assignment of one tool, or a NotFoundError.
	Binding(ctx context.Context, agentTypeID uuid.UUID, toolName string) (*domain.Binding, error)
}

// Store is the full catalog persistence contract.
type Store interface {
	Reader

	ListTools(ctx context.Context) ([]domain.Tool, error)
	ListAgentTypes(ctx context.Context) ([]domain.AgentType, error)

	// SaveTool inserts or updates a tool by name.
	SaveTool(ctx context.Context, t *domain.Tool) error
	// DeleteTool removes a tool and its disabled assignments. It fails with
	// ErrConflict while an enabled assignment references the tool.
	DeleteTool(ctx context.Context, name string) error

	// SaveAgentType inserts or updates an agent type by name. When IsDefault
	// is set, every other agent type loses its default flag in the same write.
	SaveAgentType(ctx context.Context, a *domain.AgentType) error
	// DeleteAgentType removes an agent type and its assignments.
	DeleteAgentType(ctx context.Context, name string) error

	// SaveAssignment inserts or updates the assignment of (AgentTypeID, ToolID).
	SaveAssignment(ctx context.Context, a *domain.ToolAssignment) error
	DeleteAssignment(ctx context.Context, agentTypeID, toolID uuid.UUID) error
}
