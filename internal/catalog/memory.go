package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// MemoryStore is an in-process Store. Reads copy out of a read-locked map so
// callers never share mutable state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	tools       map[uuid.UUID]domain.Tool
	agentTypes  map[uuid.UUID]domain.AgentType
	assignments map[uuid.UUID]domain.ToolAssignment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tools:       make(map[uuid.UUID]domain.Tool),
		agentTypes:  make(map[uuid.UUID]domain.AgentType),
		assignments: make(map[uuid.UUID]domain.ToolAssignment),
	}
}

func (m *MemoryStore) AgentTypeByID(_ context.Context, id uuid.UUID) (*domain.AgentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agentTypes[id]
	if !ok {
		return nil, domain.NotFound("agent type", id.String())
	}
	return &a, nil
}

func (m *MemoryStore) AgentTypeByName(_ context.Context, name string) (*domain.AgentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.agentTypeByName(name); ok {
		return &a, nil
	}
	return nil, domain.NotFound("agent type", name)
}

func (m *MemoryStore) DefaultAgentType(_ context.Context) (*domain.AgentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agentTypes {
		if a.IsDefault {
			return &a, nil
		}
	}
	return nil, domain.NotFound("agent type", "default")
}

func (m *MemoryStore) ToolByName(_ context.Context, name string) (*domain.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.toolByName(name); ok {
		return cloneTool(t), nil
	}
	return nil, domain.NotFound("tool", name)
}

func (m *MemoryStore) Bindings(_ context.Context, agentTypeID uuid.UUID) ([]domain.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Binding
	for _, a := range m.assignments {
		if a.AgentTypeID != agentTypeID {
			continue
		}
		t, ok := m.tools[a.ToolID]
		if !ok {
			continue
		}
		out = append(out, domain.Binding{Assignment: cloneAssignment(a), Tool: *cloneTool(t)})
	}
	return out, nil
}

func (m *MemoryStore) Binding(_ context.Context, agentTypeID uuid.UUID, toolName string) (*domain.Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.toolByName(toolName)
	if !ok {
		return nil, domain.NotFound("tool", toolName)
	}
	for _, a := range m.assignments {
		if a.AgentTypeID == agentTypeID && a.ToolID == t.ID {
			return &domain.Binding{Assignment: cloneAssignment(a), Tool: *cloneTool(t)}, nil
		}
	}
	return nil, domain.NotFound("assignment", toolName)
}

func (m *MemoryStore) ListTools(_ context.Context) ([]domain.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, *cloneTool(t))
	}
	return out, nil
}

func (m *MemoryStore) ListAgentTypes(_ context.Context) ([]domain.AgentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AgentType, 0, len(m.agentTypes))
	for _, a := range m.agentTypes {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemoryStore) SaveTool(_ context.Context, t *domain.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.toolByName(t.Name); ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.tools[t.ID] = *cloneTool(*t)
	return nil
}

func (m *MemoryStore) DeleteTool(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.toolByName(name)
	if !ok {
		return domain.NotFound("tool", name)
	}
	var disabled []uuid.UUID
	for id, a := range m.assignments {
		if a.ToolID != t.ID {
			continue
		}
		if a.EnabledForAgent {
			return fmt.Errorf("%w: tool %q has enabled assignments", domain.ErrConflict, name)
		}
		disabled = append(disabled, id)
	}
	for _, id := range disabled {
		delete(m.assignments, id)
	}
	delete(m.tools, t.ID)
	return nil
}

func (m *MemoryStore) SaveAgentType(_ context.Context, a *domain.AgentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.agentTypeByName(a.Name); ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
	} else {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.IsDefault {
		for id, other := range m.agentTypes {
			if id != a.ID && other.IsDefault {
				other.IsDefault = false
				other.UpdatedAt = now
				m.agentTypes[id] = other
			}
		}
	}
	m.agentTypes[a.ID] = *a
	return nil
}

func (m *MemoryStore) DeleteAgentType(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agentTypeByName(name)
	if !ok {
		return domain.NotFound("agent type", name)
	}
	for id, asg := range m.assignments {
		if asg.AgentTypeID == a.ID {
			delete(m.assignments, id)
		}
	}
	delete(m.agentTypes, a.ID)
	return nil
}

func (m *MemoryStore) SaveAssignment(_ context.Context, a *domain.ToolAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agentTypes[a.AgentTypeID]; !ok {
		return domain.NotFound("agent type", a.AgentTypeID.String())
	}
	if _, ok := m.tools[a.ToolID]; !ok {
		return domain.NotFound("tool", a.ToolID.String())
	}
	now := time.Now().UTC()
	a.ID, a.CreatedAt = uuid.Nil, now
	for _, existing := range m.assignments {
		if existing.AgentTypeID == a.AgentTypeID && existing.ToolID == a.ToolID {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			break
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.UpdatedAt = now
	m.assignments[a.ID] = cloneAssignment(*a)
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, agentTypeID, toolID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.assignments {
		if a.AgentTypeID == agentTypeID && a.ToolID == toolID {
			delete(m.assignments, id)
			return nil
		}
	}
	return domain.NotFound("assignment", toolID.String())
}

func (m *MemoryStore) toolByName(name string) (domain.Tool, bool) {
	for _, t := range m.tools {
		if t.Name == name {
			return t, true
		}
	}
	return domain.Tool{}, false
}

func (m *MemoryStore) agentTypeByName(name string) (domain.AgentType, bool) {
	for _, a := range m.agentTypes {
		if a.Name == name {
			return a, true
		}
	}
	return domain.AgentType{}, false
}

func cloneTool(t domain.Tool) *domain.Tool {
	t.Parameters = toolschema.Clone(t.Parameters)
	t.Tags = append([]string(nil), t.Tags...)
	return &t
}

func cloneAssignment(a domain.ToolAssignment) domain.ToolAssignment {
	if a.RequiresApproval != nil {
		v := *a.RequiresApproval
		a.RequiresApproval = &v
	}
	c := a.Constraints
	a.Constraints = domain.ParameterConstraints{
		Allowed:  append([]string(nil), c.Allowed...),
		Defaults: toolschema.Clone(c.Defaults),
	}
	if c.Denied != nil {
		a.Constraints.Denied = make(map[string][]string, len(c.Denied))
		for k, v := range c.Denied {
			a.Constraints.Denied[k] = append([]string{}, v...)
		}
	}
	return a
}
