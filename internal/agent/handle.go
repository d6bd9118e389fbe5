package agent

import (
	"slices"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/resolver"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// Handle is the immutable configuration a session runs with: the agent
// type's model settings plus its resolved tools. Accessors return copies.
type Handle struct {
	agentTypeID   uuid.UUID
	agentTypeName string
	model         string
	systemPrompt  string
	temperature   float64
	streaming     bool
	contextLimit  int
	maxTokens     int
	tools         []resolver.ResolvedTool
	schemas       map[string]*toolschema.Schema
}

func (h *Handle) AgentTypeID() uuid.UUID { return h.agentTypeID }
func (h *Handle) AgentTypeName() string  { return h.agentTypeName }
func (h *Handle) Model() string          { return h.model }
func (h *Handle) SystemPrompt() string   { return h.systemPrompt }
func (h *Handle) Temperature() float64   { return h.temperature }
func (h *Handle) Streaming() bool        { return h.streaming }
func (h *Handle) ContextLimit() int      { return h.contextLimit }
func (h *Handle) MaxTokens() int         { return h.maxTokens }

// Tools returns the resolved tools in resolution order.
func (h *Handle) Tools() []resolver.ResolvedTool {
	out := make([]resolver.ResolvedTool, len(h.tools))
	for i, t := range h.tools {
		out[i] = cloneResolved(t)
	}
	return out
}

// ToolSpecs returns the function-call specs in resolution order.
func (h *Handle) ToolSpecs() []resolver.ToolSpec {
	out := make([]resolver.ToolSpec, len(h.tools))
	for i, t := range h.tools {
		out[i] = cloneResolved(t).ToolSpec
	}
	return out
}

// Tool returns one resolved tool by name.
func (h *Handle) Tool(name string) (resolver.ResolvedTool, bool) {
	i := slices.IndexFunc(h.tools, func(t resolver.ResolvedTool) bool { return t.Name == name })
	if i < 0 {
		return resolver.ResolvedTool{}, false
	}
	return cloneResolved(h.tools[i]), true
}

// ValidateParams checks params against the tool's specialized schema.
// Tools the handle does not know pass; the permission gate rejects them.
func (h *Handle) ValidateParams(name string, params map[string]any) error {
	s, ok := h.schemas[name]
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	return s.Validate(params)
}

func cloneResolved(t resolver.ResolvedTool) resolver.ResolvedTool {
	t.Parameters = toolschema.Clone(t.Parameters)
	t.Defaults = toolschema.Clone(t.Defaults)
	return t
}
