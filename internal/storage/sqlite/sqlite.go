// Package sqlite runs the PostgreSQL repositories on an embedded SQLite file
// through the pure-Go glebarez driver. No CGO is needed.
//
// Differences from the PostgreSQL backend:
//   - WAL journal by default, so readers do not block the writer
//   - JSONB columns hold JSON text
//   - writers are serialised by SQLite instead of row locks
package sqlite

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/ideaflow/internal/storage"
	pgstore "github.com/jkaninda/ideaflow/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string
	JournalMode string // Default: wal
}

// Store is the SQLite storage.Store.
type Store struct {
	*pgstore.Store
	path string
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database file. Call Migrate before first use.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	journal := cfg.JournalMode
	if journal == "" {
		journal = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journal)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewLogger(logger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	logger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journal))
	return &Store{Store: pgstore.NewStore(db), path: cfg.Path}, nil
}

func (s *Store) Driver() string { return storage.DriverSQLite }

// Path returns the database file.
func (s *Store) Path() string { return s.path }
