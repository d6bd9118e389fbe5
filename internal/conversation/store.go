// Package conversation persists sessions and their append-only messages.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// Store persists sessions and messages.
type Store interface {
	// CreateSession stores a new session, assigning ID and timestamps when unset.
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	// UpdateStatus moves a session along its lifecycle. Transitions not allowed
	// by SessionStatus.CanTransition fail with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) (*domain.Session, error)
	ListSessions(ctx context.Context, f Filter) ([]domain.Session, error)

	// AppendMessage stores m at the end of its session and sets m.Seq.
	// The session's UpdatedAt moves forward.
	AppendMessage(ctx context.Context, m *domain.Message) error
	// ListMessages returns the last limit messages, oldest first. Zero limit returns all.
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Message, error)
}

// Filter narrows ListSessions.
type Filter struct {
	Status        domain.SessionStatus // Empty matches any.
	AgentTypeID   uuid.UUID            // Nil matches any.
	UpdatedBefore time.Time            // Zero matches any.
	Limit         int
}

// Matches reports whether s passes the filter, ignoring Limit.
func (f Filter) Matches(s *domain.Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.AgentTypeID != uuid.Nil && s.AgentTypeID != f.AgentTypeID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// CheckTransition returns ErrInvalidTransition unless from may move to to.
func CheckTransition(id uuid.UUID, from, to domain.SessionStatus) error {
	if !to.Valid() {
		return domain.Invalidf("unknown session status %q", to)
	}
	if !from.CanTransition(to) {
		return &TransitionError{SessionID: id, From: from, To: to}
	}
	return nil
}

// TransitionError reports a refused lifecycle move.
type TransitionError struct {
	SessionID uuid.UUID
	From, To  domain.SessionStatus
}

func (e *TransitionError) Error() string {
	return "session " + e.SessionID.String() + ": cannot move from " + string(e.From) + " to " + string(e.To)
}

func (e *TransitionError) Unwrap() error { return domain.ErrInvalidTransition }
