package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/domain"
)

var _ catalog.Store = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Store.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a CatalogRepository.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) AgentTypeByID(ctx context.Context, id uuid.UUID) (*domain.AgentType, error) {
	var m AgentTypeModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "agent type", id.String())
	}
	return toAgentType(&m), nil
}

func (r *CatalogRepository) AgentTypeByName(ctx context.Context, name string) (*domain.AgentType, error) {
	m, err := r.agentTypeByName(r.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	return toAgentType(m), nil
}

func (r *CatalogRepository) DefaultAgentType(ctx context.Context) (*domain.AgentType, error) {
	var m AgentTypeModel
	if err := r.db.WithContext(ctx).Where("is_default = ?", true).First(&m).Error; err != nil {
		return nil, notFound(err, "agent type", "default")
	}
	return toAgentType(&m), nil
}

func (r *CatalogRepository) ToolByName(ctx context.Context, name string) (*domain.Tool, error) {
	m, err := r.toolByName(r.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	t, err := toTool(m)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Bindings reads assignments and their tools in one joined query.
func (r *CatalogRepository) Bindings(ctx context.Context, agentTypeID uuid.UUID) ([]domain.Binding, error) {
	var models []AssignmentModel
	err := r.db.WithContext(ctx).
		Joins("Tool").
		Where("tool_assignments.agent_type_id = ?", agentTypeID).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading bindings: %w", err)
	}
	out := make([]domain.Binding, 0, len(models))
	for i := range models {
		b, err := toBinding(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *CatalogRepository) Binding(ctx context.Context, agentTypeID uuid.UUID, toolName string) (*domain.Binding, error) {
	db := r.db.WithContext(ctx)
	tool, err := r.toolByName(db, toolName)
	if err != nil {
		return nil, err
	}
	var m AssignmentModel
	err = db.Joins("Tool").
		Where("tool_assignments.agent_type_id = ? AND tool_assignments.tool_id = ?", agentTypeID, tool.ID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, "assignment", toolName)
	}
	b, err := toBinding(&m)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *CatalogRepository) ListTools(ctx context.Context) ([]domain.Tool, error) {
	var models []ToolModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	out := make([]domain.Tool, 0, len(models))
	for i := range models {
		t, err := toTool(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *CatalogRepository) ListAgentTypes(ctx context.Context) ([]domain.AgentType, error) {
	var models []AgentTypeModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing agent types: %w", err)
	}
	out := make([]domain.AgentType, 0, len(models))
	for i := range models {
		out = append(out, *toAgentType(&models[i]))
	}
	return out, nil
}

func (r *CatalogRepository) SaveTool(ctx context.Context, t *domain.Tool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		existing, err := r.toolByName(tx, t.Name)
		switch {
		case err == nil:
			t.ID, t.CreatedAt = existing.ID, existing.CreatedAt
		case errors.Is(err, domain.ErrNotFound):
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			t.CreatedAt = now
		default:
			return err
		}
		t.UpdatedAt = now

		m, err := toToolModel(t)
		if err != nil {
			return err
		}
		if existing != nil {
			err = tx.Save(m).Error
		} else {
			err = tx.Create(m).Error
		}
		if err != nil {
			return fmt.Errorf("saving tool %q: %w", t.Name, err)
		}
		return nil
	})
}

func (r *CatalogRepository) DeleteTool(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tool, err := r.toolByName(tx, name)
		if err != nil {
			return err
		}
		var enabled int64
		err = tx.Model(&AssignmentModel{}).
			Where("tool_id = ? AND enabled_for_agent = ?", tool.ID, true).
			Count(&enabled).Error
		if err != nil {
			return fmt.Errorf("counting assignments of tool %q: %w", name, err)
		}
		if enabled > 0 {
			return fmt.Errorf("%w: tool %q has enabled assignments", domain.ErrConflict, name)
		}
		if err := tx.Where("tool_id = ?", tool.ID).Delete(&AssignmentModel{}).Error; err != nil {
			return fmt.Errorf("deleting assignments of tool %q: %w", name, err)
		}
		if err := tx.Delete(&ToolModel{}, "id = ?", tool.ID).Error; err != nil {
			return fmt.Errorf("deleting tool %q: %w", name, err)
		}
		return nil
	})
}

func (r *CatalogRepository) SaveAgentType(ctx context.Context, a *domain.AgentType) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		existing, err := r.agentTypeByName(tx, a.Name)
		switch {
		case err == nil:
			a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
		case errors.Is(err, domain.ErrNotFound):
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			a.CreatedAt = now
		default:
			return err
		}
		a.UpdatedAt = now

		if a.IsDefault {
			err := tx.Model(&AgentTypeModel{}).
				Where("id <> ? AND is_default = ?", a.ID, true).
				Updates(map[string]any{"is_default": false, "updated_at": now}).Error
			if err != nil {
				return fmt.Errorf("clearing default agent type: %w", err)
			}
		}

		m := toAgentTypeModel(a)
		if existing != nil {
			err = tx.Save(m).Error
		} else {
			err = tx.Create(m).Error
		}
		if err != nil {
			return fmt.Errorf("saving agent type %q: %w", a.Name, err)
		}
		return nil
	})
}

func (r *CatalogRepository) DeleteAgentType(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := r.agentTypeByName(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Where("agent_type_id = ?", a.ID).Delete(&AssignmentModel{}).Error; err != nil {
			return fmt.Errorf("deleting assignments of agent type %q: %w", name, err)
		}
		if err := tx.Delete(&AgentTypeModel{}, "id = ?", a.ID).Error; err != nil {
			return fmt.Errorf("deleting agent type %q: %w", name, err)
		}
		return nil
	})
}

func (r *CatalogRepository) SaveAssignment(ctx context.Context, a *domain.ToolAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AgentTypeModel{}).Where("id = ?", a.AgentTypeID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking agent type: %w", err)
		}
		if count == 0 {
			return domain.NotFound("agent type", a.AgentTypeID.String())
		}
		if err := tx.Model(&ToolModel{}).Where("id = ?", a.ToolID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking tool: %w", err)
		}
		if count == 0 {
			return domain.NotFound("tool", a.ToolID.String())
		}

		now := time.Now().UTC()
		var existing AssignmentModel
		err := tx.Where("agent_type_id = ? AND tool_id = ?", a.AgentTypeID, a.ToolID).First(&existing).Error
		found := err == nil
		switch {
		case found:
			a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			a.ID, a.CreatedAt = uuid.New(), now
		default:
			return fmt.Errorf("looking up assignment: %w", err)
		}
		a.UpdatedAt = now

		m, err := toAssignmentModel(a)
		if err != nil {
			return err
		}
		q := tx.Omit(clause.Associations)
		if found {
			err = q.Save(m).Error
		} else {
			err = q.Create(m).Error
		}
		if err != nil {
			return fmt.Errorf("saving assignment: %w", err)
		}
		return nil
	})
}

func (r *CatalogRepository) DeleteAssignment(ctx context.Context, agentTypeID, toolID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("agent_type_id = ? AND tool_id = ?", agentTypeID, toolID).
		Delete(&AssignmentModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting assignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("assignment", toolID.String())
	}
	return nil
}

func (r *CatalogRepository) toolByName(db *gorm.DB, name string) (*ToolModel, error) {
	var m ToolModel
	if err := db.Where("name = ?", name).First(&m).Error; err != nil {
		return nil, notFound(err, "tool", name)
	}
	return &m, nil
}

func (r *CatalogRepository) agentTypeByName(db *gorm.DB, name string) (*AgentTypeModel, error) {
	var m AgentTypeModel
	if err := db.Where("name = ?", name).First(&m).Error; err != nil {
		return nil, notFound(err, "agent type", name)
	}
	return &m, nil
}

// notFound maps a missing row to a domain NotFoundError and wraps anything
// else.
func notFound(err error, kind, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound(kind, key)
	}
	return fmt.Errorf("loading %s %q: %w", kind, key, err)
}
