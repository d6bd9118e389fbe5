package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/domain"
)

var _ audit.Store = (*AuditRepository)(nil)

// AuditRepository implements audit.Store. Rows are only ever inserted.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *domain.UsageAuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m, err := toAuditModel(rec)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("inserting usage audit: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, q audit.Query) ([]domain.UsageAuditRecord, error) {
	db := r.filter(r.db.WithContext(ctx), q).Order("created_at DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var models []UsageAuditModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing usage audit: %w", err)
	}
	out := make([]domain.UsageAuditRecord, 0, len(models))
	for i := range models {
		rec, err := toAuditRecord(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *AuditRepository) Count(ctx context.Context, q audit.Query) (int64, error) {
	var n int64
	if err := r.filter(r.db.WithContext(ctx), q).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting usage audit: %w", err)
	}
	return n, nil
}

func (r *AuditRepository) filter(db *gorm.DB, q audit.Query) *gorm.DB {
	db = db.Model(&UsageAuditModel{})
	if q.SessionID != uuid.Nil {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.ToolName != "" {
		db = db.Where("tool_name = ?", q.ToolName)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		db = db.Where("status IN ?", statuses)
	}
	if q.ExecutedOnly {
		db = db.Where("executed = ?", true)
	}
	return db
}
