// Package storage defines the persistence backend shared by the catalog,
// conversation and audit packages. Implementations live in sub-packages.
package storage

import (
	"context"

	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/conversation"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store bundles the sub-stores of one backend behind a single lifecycle.
type Store interface {
	Catalog() catalog.Store
	Conversations() conversation.Store
	Audit() audit.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error
	// Ping checks the backend for readiness probes.
	Ping(ctx context.Context) error
	Close() error

	// Driver names the backend, one of the Driver constants.
	Driver() string
}

// Memory is a Store kept in process memory. Everything is lost on exit.
type Memory struct {
	catalog       *catalog.MemoryStore
	conversations *conversation.MemoryStore
	audit         *audit.MemoryStore
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		catalog:       catalog.NewMemoryStore(),
		conversations: conversation.NewMemoryStore(),
		audit:         audit.NewMemoryStore(),
	}
}

func (m *Memory) Catalog() catalog.Store            { return m.catalog }
func (m *Memory) Conversations() conversation.Store { return m.conversations }
func (m *Memory) Audit() audit.Store                { return m.audit }
func (m *Memory) Migrate(context.Context) error     { return nil }
func (m *Memory) Ping(context.Context) error        { return nil }
func (m *Memory) Close() error                      { return nil }
func (m *Memory) Driver() string                    { return DriverMemory }
