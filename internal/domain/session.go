package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/block"
)

// SessionStatus is the lifecycle state of a conversation.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionActive:    {SessionPaused, SessionCompleted, SessionArchived},
	SessionPaused:    {SessionActive, SessionCompleted, SessionArchived},
	SessionCompleted: {SessionArchived},
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionArchived:
		return true
	}
	return false
}

// CanTransition reports whether a session may move from s to next.
// Nothing goes back to active once completed or archived.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Live reports whether the session accepts new messages.
func (s SessionStatus) Live() bool {
	return s == SessionActive || s == SessionPaused
}

// Session is a conversation bound to one agent type at creation.
type Session struct {
	ID            uuid.UUID
	AgentTypeID   uuid.UUID
	AgentTypeName string
	Title         string
	Status        SessionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an immutable, ordered list of blocks in a session.
// Seq is assigned by the store and strictly increases within a session.
type Message struct {
	ID        string // ULID.
	SessionID uuid.UUID
	Seq       int
	Role      Role
	Blocks    block.List
	CreatedAt time.Time
}
