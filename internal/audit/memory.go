package audit

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.UsageAuditRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, rec *domain.UsageAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]domain.UsageAuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UsageAuditRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if q.matches(&m.records[i]) {
			out = append(out, m.records[i])
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context, q Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for i := range m.records {
		if q.matches(&m.records[i]) {
			n++
		}
	}
	return n, nil
}

func (q Query) matches(r *domain.UsageAuditRecord) bool {
	if q.SessionID != uuid.Nil && r.SessionID != q.SessionID {
		return false
	}
	if q.ToolName != "" && r.ToolName != q.ToolName {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, r.Status) {
		return false
	}
	if q.ExecutedOnly && !r.Executed {
		return false
	}
	return true
}
