package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the PostgreSQL storage.Store.
type Store struct {
	db            *gorm.DB
	catalog       *CatalogRepository
	conversations *ConversationRepository
	audit         *AuditRepository
}

// OpenStore connects and wraps the connection in a Store.
func OpenStore(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore builds the repositories on an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		catalog:       NewCatalogRepository(db),
		conversations: NewConversationRepository(db),
		audit:         NewAuditRepository(db),
	}
}

func (s *Store) Catalog() catalog.Store            { return s.catalog }
func (s *Store) Conversations() conversation.Store { return s.conversations }
func (s *Store) Audit() audit.Store                { return s.audit }
func (s *Store) Driver() string                    { return storage.DriverPostgres }

func (s *Store) Migrate(ctx context.Context) error {
	if err := AutoMigrate(ctx, s.db); err != nil {
		return fmt.Errorf("auto-migrating: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
