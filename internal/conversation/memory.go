package conversation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
)

// MemoryStore keeps sessions in process memory. History is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]domain.Session
	messages map[uuid.UUID][]domain.Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]domain.Session),
		messages: make(map[uuid.UUID][]domain.Message),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = domain.SessionActive
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.NotFound("session", id.String())
	}
	return &s, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.SessionStatus) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.NotFound("session", id.String())
	}
	if err := CheckTransition(id, s.Status, status); err != nil {
		return nil, err
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return &s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, f Filter) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Session
	for _, s := range m.sessions {
		if f.Matches(&s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return domain.NotFound("session", msg.SessionID.String())
	}
	if msg.ID == "" {
		msg.ID = block.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seq = len(m.messages[msg.SessionID]) + 1
	stored := *msg
	stored.Blocks = slices.Clone(msg.Blocks)
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], stored)
	s.UpdatedAt = msg.CreatedAt
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, domain.NotFound("session", sessionID.String())
	}
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		msg.Blocks = slices.Clone(msg.Blocks)
		out[i] = msg
	}
	return out, nil
}
