package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// Service validates catalog writes before they reach the store. Constraint
// fields are checked against the tool schema here so readers can trust them.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService wraps store with write-time validation.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// SaveTool validates and upserts a tool.
func (s *Service) SaveTool(ctx context.Context, t *domain.Tool) error {
	if err := ValidateTool(t); err != nil {
		return err
	}
	if err := s.store.SaveTool(ctx, t); err != nil {
		return fmt.Errorf("saving tool %s: %w", t.Name, err)
	}
	s.logger.Info("tool saved",
		slog.String("tool", t.Name),
		slog.String("source", string(t.Source)),
		slog.Bool("enabled", t.Enabled),
	)
	return nil
}

// SetToolEnabled flips a tool's enabled flag without touching its assignments.
func (s *Service) SetToolEnabled(ctx context.Context, name string, enabled bool) error {
	t, err := s.store.ToolByName(ctx, name)
	if err != nil {
		return err
	}
	t.Enabled = enabled
	return s.SaveTool(ctx, t)
}

// DeleteTool removes a tool. See Store.DeleteTool.
func (s *Service) DeleteTool(ctx context.Context, name string) error {
	if err := s.store.DeleteTool(ctx, name); err != nil {
		return fmt.Errorf("deleting tool %s: %w", name, err)
	}
	s.logger.Info("tool deleted", slog.String("tool", name))
	return nil
}

// SaveAgentType validates and upserts an agent type.
func (s *Service) SaveAgentType(ctx context.Context, a *domain.AgentType) error {
	if err := ValidateAgentType(a); err != nil {
		return err
	}
	if err := s.store.SaveAgentType(ctx, a); err != nil {
		return fmt.Errorf("saving agent type %s: %w", a.Name, err)
	}
	s.logger.Info("agent type saved",
		slog.String("agent_type", a.Name),
		slog.String("model", a.Model),
		slog.Bool("default", a.IsDefault),
	)
	return nil
}

// DeleteAgentType removes an agent type and its assignments.
func (s *Service) DeleteAgentType(ctx context.Context, name string) error {
	if err := s.store.DeleteAgentType(ctx, name); err != nil {
		return fmt.Errorf("deleting agent type %s: %w", name, err)
	}
	s.logger.Info("agent type deleted", slog.String("agent_type", name))
	return nil
}

// Assign creates or replaces the assignment of toolName to agentTypeName.
// IDs on asg are filled in from the names.
func (s *Service) Assign(ctx context.Context, agentTypeName, toolName string, asg domain.ToolAssignment) (*domain.ToolAssignment, error) {
	at, err := s.store.AgentTypeByName(ctx, agentTypeName)
	if err != nil {
		return nil, err
	}
	tool, err := s.store.ToolByName(ctx, toolName)
	if err != nil {
		return nil, err
	}
	asg.AgentTypeID = at.ID
	asg.ToolID = tool.ID
	if err := ValidateAssignment(&asg, tool); err != nil {
		return nil, fmt.Errorf("assignment %s/%s: %w", agentTypeName, toolName, err)
	}
	if err := s.store.SaveAssignment(ctx, &asg); err != nil {
		return nil, fmt.Errorf("saving assignment %s/%s: %w", agentTypeName, toolName, err)
	}
	s.logger.Info("tool assigned",
		slog.String("agent_type", agentTypeName),
		slog.String("tool", toolName),
		slog.Int("order", asg.Order),
		slog.Bool("enabled", asg.EnabledForAgent),
	)
	return &asg, nil
}

// Unassign removes the assignment of toolName from agentTypeName.
func (s *Service) Unassign(ctx context.Context, agentTypeName, toolName string) error {
	at, err := s.store.AgentTypeByName(ctx, agentTypeName)
	if err != nil {
		return err
	}
	tool, err := s.store.ToolByName(ctx, toolName)
	if err != nil {
		return err
	}
	return s.store.DeleteAssignment(ctx, at.ID, tool.ID)
}

// ValidateTool checks identity, source and schema of a tool.
func ValidateTool(t *domain.Tool) error {
	if !domain.ValidToolName(t.Name) {
		return domain.Invalidf("tool name %q must match [a-zA-Z0-9_-]{1,64}", t.Name)
	}
	if t.Source == "" {
		t.Source = domain.SourceBuiltin
	}
	if !t.Source.Valid() {
		return domain.Invalidf("tool %s: unknown source %q", t.Name, t.Source)
	}
	if t.Source == domain.SourceCustom && t.Endpoint == "" {
		return domain.Invalidf("tool %s: custom tools need an endpoint", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = toolschema.EmptyObject()
	}
	if _, err := toolschema.Compile(t.Parameters); err != nil {
		return domain.Invalidf("tool %s: %v", t.Name, err)
	}
	return nil
}

// ValidateAgentType checks the fields an agent type needs to drive a session.
func ValidateAgentType(a *domain.AgentType) error {
	switch {
	case a.Name == "":
		return domain.Invalidf("agent type name is required")
	case a.Model == "":
		return domain.Invalidf("agent type %s: model is required", a.Name)
	case a.Temperature < 0 || a.Temperature > 2:
		return domain.Invalidf("agent type %s: temperature %.2f outside 0..2", a.Name, a.Temperature)
	case a.ContextLimit < 0:
		return domain.Invalidf("agent type %s: negative context limit", a.Name)
	case a.MaxTokens < 0:
		return domain.Invalidf("agent type %s: negative max tokens", a.Name)
	}
	if a.IsDefault && !a.Enabled {
		return domain.Invalidf("agent type %s: the default agent type must be enabled", a.Name)
	}
	return nil
}

// ValidateAssignment checks the usage limit and that every constraint names a
// declared parameter. Defaults must satisfy the property schema and must not
// be denied themselves.
func ValidateAssignment(a *domain.ToolAssignment, tool *domain.Tool) error {
	if a.UsageLimit < domain.UnlimitedUsage {
		return domain.Invalidf("usage limit %d below %d", a.UsageLimit, domain.UnlimitedUsage)
	}
	c := a.Constraints
	for _, key := range c.Allowed {
		if !toolschema.HasProperty(tool.Parameters, key) {
			return domain.Invalidf("allowed parameter %q is not declared by %s", key, tool.Name)
		}
	}
	for key, values := range c.Denied {
		if !toolschema.HasProperty(tool.Parameters, key) {
			return domain.Invalidf("denied parameter %q is not declared by %s", key, tool.Name)
		}
		if len(values) == 0 && slices.Contains(c.Allowed, key) {
			return domain.Invalidf("parameter %q is both allowed and denied", key)
		}
	}
	for key, v := range c.Defaults {
		if len(c.Allowed) > 0 && !slices.Contains(c.Allowed, key) {
			return domain.Invalidf("default for %q is outside the allowed parameters", key)
		}
		if err := toolschema.ValidateProperty(tool.Parameters, key, v); err != nil {
			return domain.Invalidf("default for %q: %v", key, err)
		}
		if values, ok := c.Denied[key]; ok && (len(values) == 0 || domain.MatchesDenied(v, values)) {
			return domain.Invalidf("default for %q is denied", key)
		}
	}
	return nil
}
