// Package resolver turns catalog assignments into the effective tool set of
// an agent type and gates every tool call against the assignment rules.
//
// Resolution is a pure read: the catalog returns one snapshot of the agent
// type's bindings, the resolver filters, orders and specializes them. Tool
// schemas are deep-copied before specialization so the shared catalog record
// never changes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// ToolSpec is the function-call shape handed to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ResolvedTool is a ToolSpec with the policy the relay enforces around it.
type ResolvedTool struct {
	ToolSpec
	Source           domain.ToolSource `json:"source"`
	Category         string            `json:"category,omitempty"`
	Endpoint         string            `json:"-"`
	Order            int               `json:"order"`
	Dangerous        bool              `json:"dangerous"`
	RequiresApproval bool              `json:"requires_approval"`
	UsageLimit       int               `json:"usage_limit"`
	Defaults         map[string]any    `json:"defaults,omitempty"`
}

// Resolver reads assignments from a catalog.
type Resolver struct {
	catalog catalog.Reader
	logger  *slog.Logger
}

// New creates a Resolver over the given catalog reader.
func New(r catalog.Reader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: r, logger: logger}
}

// ResolveTools returns the ordered, specialized tool specs of an agent type.
func (r *Resolver) ResolveTools(ctx context.Context, agentTypeID uuid.UUID, enabledOnly bool) ([]ToolSpec, error) {
	resolved, err := r.Resolve(ctx, agentTypeID, enabledOnly)
	if err != nil {
		return nil, err
	}
	specs := make([]ToolSpec, len(resolved))
	for i, t := range resolved {
		specs[i] = t.ToolSpec
	}
	return specs, nil
}

// Resolve is ResolveTools with per-tool policy attached.
//
// Tools are kept when the assignment is enabled for the agent and, with
// enabledOnly, when the tool itself is enabled. They are ordered by
// assignment order, then tool name.
func (r *Resolver) Resolve(ctx context.Context, agentTypeID uuid.UUID, enabledOnly bool) ([]ResolvedTool, error) {
	if _, err := r.catalog.AgentTypeByID(ctx, agentTypeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.Infrastructure("loading agent type", err)
	}
	bindings, err := r.catalog.Bindings(ctx, agentTypeID)
	if err != nil {
		return nil, domain.Infrastructure("loading tool bindings", err)
	}

	out := make([]ResolvedTool, 0, len(bindings))
	for _, b := range bindings {
		if !b.Assignment.EnabledForAgent {
			continue
		}
		if enabledOnly && !b.Tool.Enabled {
			continue
		}
		out = append(out, resolveBinding(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func resolveBinding(b domain.Binding) ResolvedTool {
	a := b.Assignment
	approval := b.Tool.RequiresApproval
	if a.RequiresApproval != nil {
		approval = *a.RequiresApproval
	}
	return ResolvedTool{
		ToolSpec: ToolSpec{
			Name:        b.Tool.Name,
			Description: b.Tool.Description,
			Parameters:  Specialize(b.Tool.Parameters, a.Constraints),
		},
		Source:           b.Tool.Source,
		Category:         b.Tool.Category,
		Endpoint:         b.Tool.Endpoint,
		Order:            a.Order,
		Dangerous:        b.Tool.Dangerous,
		RequiresApproval: approval,
		UsageLimit:       a.UsageLimit,
		Defaults:         toolschema.Clone(a.Constraints.Defaults),
	}
}

// IsToolPermitted reports whether the agent type may call toolName with
// params. A missing, disabled or use-forbidden assignment denies; so does any
// parameter matching a denial rule or falling outside a non-empty whitelist.
// The error is non-nil only when the catalog could not be read.
func (r *Resolver) IsToolPermitted(ctx context.Context, agentTypeID uuid.UUID, toolName string, params map[string]any) (bool, error) {
	err := r.Check(ctx, agentTypeID, toolName, params)
	if err == nil {
		return true, nil
	}
	var denied *domain.PermissionDeniedError
	if errors.As(err, &denied) {
		return false, nil
	}
	return false, err
}

// Check is IsToolPermitted returning the reason as a *PermissionDeniedError.
func (r *Resolver) Check(ctx context.Context, agentTypeID uuid.UUID, toolName string, params map[string]any) error {
	b, err := r.catalog.Binding(ctx, agentTypeID, toolName)
	if errors.Is(err, domain.ErrNotFound) {
		return deny(toolName, "tool is not assigned to this agent type")
	}
	if err != nil {
		return domain.Infrastructure("loading tool binding", err)
	}

	a := b.Assignment
	switch {
	case !a.EnabledForAgent:
		return deny(toolName, "tool is disabled for this agent type")
	case !a.AllowUse:
		return deny(toolName, "tool use is not allowed for this agent type")
	case !b.Tool.Enabled:
		return deny(toolName, "tool is disabled")
	}

	if _, reason, denied := a.Constraints.Violation(params); denied {
		r.logger.Warn("tool call matched denial rule",
			slog.String("tool", toolName),
			slog.String("agent_type_id", agentTypeID.String()),
			slog.String("reason", reason),
		)
		return deny(toolName, reason)
	}
	if len(a.Constraints.Allowed) > 0 {
		for key := range params {
			if _, isDefault := a.Constraints.Defaults[key]; isDefault {
				continue
			}
			if !slices.Contains(a.Constraints.Allowed, key) {
				return deny(toolName, fmt.Sprintf("parameter %q is not in the allowed list", key))
			}
		}
	}
	return nil
}

func deny(tool, reason string) error {
	return &domain.PermissionDeniedError{Tool: tool, Reason: reason}
}
