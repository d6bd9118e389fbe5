package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
)

var _ conversation.Store = (*ConversationRepository)(nil)

// ConversationRepository implements conversation.Store.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = domain.SessionActive
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	if err := r.db.WithContext(ctx).Create(toSessionModel(s)).Error; err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var m SessionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "session", id.String())
	}
	return toSession(&m), nil
}

// UpdateStatus checks and applies the transition under a row lock, so two
// concurrent moves cannot both succeed from the same state.
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m SessionModel
		err := lockForUpdate(tx).Where("id = ?", id).First(&m).Error
		if err != nil {
			return notFound(err, "session", id.String())
		}
		if err := conversation.CheckTransition(id, domain.SessionStatus(m.Status), status); err != nil {
			return err
		}
		m.Status = string(status)
		m.UpdatedAt = time.Now().UTC()
		err = tx.Model(&SessionModel{}).Where("id = ?", id).
			Updates(map[string]any{"status": m.Status, "updated_at": m.UpdatedAt}).Error
		if err != nil {
			return fmt.Errorf("updating session status: %w", err)
		}
		out = toSession(&m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ConversationRepository) ListSessions(ctx context.Context, f conversation.Filter) ([]domain.Session, error) {
	q := r.db.WithContext(ctx).Model(&SessionModel{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.AgentTypeID != uuid.Nil {
		q = q.Where("agent_type_id = ?", f.AgentTypeID)
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", f.UpdatedBefore.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []SessionModel
	if err := q.Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(models))
	for i := range models {
		out = append(out, *toSession(&models[i]))
	}
	return out, nil
}

// AppendMessage assigns the next sequence number inside a transaction. The
// unique (session_id, seq) index rejects a concurrent writer that read the
// same maximum.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = block.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	blocks, err := marshalJSONB(msg.Blocks)
	if err != nil {
		return fmt.Errorf("encoding blocks: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session SessionModel
		if err := lockForUpdate(tx).Where("id = ?", msg.SessionID).First(&session).Error; err != nil {
			return notFound(err, "session", msg.SessionID.String())
		}

		var maxSeq int
		err := tx.Model(&MessageModel{}).
			Where("session_id = ?", msg.SessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq: %w", err)
		}

		m := &MessageModel{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Seq:       maxSeq + 1,
			Role:      string(msg.Role),
			Blocks:    blocks,
			CreatedAt: msg.CreatedAt,
		}
		if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		err = tx.Model(&SessionModel{}).Where("id = ?", msg.SessionID).
			Update("updated_at", msg.CreatedAt).Error
		if err != nil {
			return fmt.Errorf("touching session: %w", err)
		}
		msg.Seq = m.Seq
		return nil
	})
}

// ListMessages reads the newest limit rows and returns them oldest first.
func (r *ConversationRepository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	db := r.db.WithContext(ctx)
	var count int64
	if err := db.Model(&SessionModel{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if count == 0 {
		return nil, domain.NotFound("session", sessionID.String())
	}

	q := db.Where("session_id = ?", sessionID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []MessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	slices.Reverse(models)

	out := make([]domain.Message, 0, len(models))
	for i := range models {
		m, err := toMessage(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// lockForUpdate adds FOR UPDATE where the dialect supports it. SQLite
// serialises writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
