package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB holds a raw JSON document. It scans from both bytes and text so the
// same models work on SQLite, which hands JSON back as a string.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSONB(nil), v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("scanning %T into JSONB", src)
	}
	return nil
}

// ToolModel maps to the "tools" table.
type ToolModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name             string    `gorm:"not null;uniqueIndex"`
	Description      string    `gorm:"not null;default:''"`
	Category         string    `gorm:"not null;default:'';index"`
	Source           string    `gorm:"not null"`
	Parameters       JSONB     `gorm:"type:jsonb"`
	Endpoint         string
	Enabled          bool  `gorm:"not null;default:true"`
	Dangerous        bool  `gorm:"not null;default:false"`
	RequiresApproval bool  `gorm:"not null;default:false"`
	Tags             JSONB `gorm:"type:jsonb"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ToolModel) TableName() string { return "tools" }

// AgentTypeModel maps to the "agent_types" table.
type AgentTypeModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"not null;uniqueIndex"`
	Label        string
	Description  string
	Avatar       string
	Model        string `gorm:"not null"`
	SystemPrompt string `gorm:"type:text"`
	Temperature  float64
	Streaming    bool `gorm:"not null;default:true"`
	ContextLimit int
	MaxTokens    int
	Enabled      bool `gorm:"not null;default:true"`
	IsDefault    bool `gorm:"not null;default:false;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (AgentTypeModel) TableName() string { return "agent_types" }

// AssignmentModel maps to the "tool_assignments" table. One row per
// (agent type, tool) pair.
type AssignmentModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentTypeID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_pair"`
	ToolID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_pair;index"`
	EnabledForAgent  bool      `gorm:"not null;default:true"`
	SortOrder        int       `gorm:"not null;default:0"`
	AllowUse         bool      `gorm:"not null;default:true"`
	RequiresApproval *bool
	UsageLimit       int   `gorm:"not null;default:-1"`
	Constraints      JSONB `gorm:"type:jsonb"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	AgentType AgentTypeModel `gorm:"foreignKey:AgentTypeID;constraint:OnDelete:CASCADE"`
	Tool      ToolModel      `gorm:"foreignKey:ToolID;constraint:OnDelete:RESTRICT"`
}

func (AssignmentModel) TableName() string { return "tool_assignments" }

// SessionModel maps to the "sessions" table.
type SessionModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AgentTypeID   uuid.UUID `gorm:"type:uuid;not null;index"`
	AgentTypeName string    `gorm:"not null"`
	Title         string
	Status        string `gorm:"not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }

// MessageModel maps to the "messages" table. Seq is unique per session.
type MessageModel struct {
	ID        string    `gorm:"primaryKey;size:26"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_message_seq"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_message_seq"`
	Role      string    `gorm:"not null"`
	Blocks    JSONB     `gorm:"type:jsonb;not null"`
	CreatedAt time.Time

	Session SessionModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (MessageModel) TableName() string { return "messages" }

// UsageAuditModel maps to the append-only "tool_usage_audit" table.
type UsageAuditModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID   uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_session_tool"`
	AgentTypeID uuid.UUID `gorm:"type:uuid;not null"`
	ToolName    string    `gorm:"not null;index:idx_usage_session_tool"`
	Parameters  JSONB     `gorm:"type:jsonb"`
	Result      string    `gorm:"type:text"`
	Status      string    `gorm:"not null;index"`
	Executed    bool      `gorm:"not null;default:false"`
	LatencyMs   int64
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (UsageAuditModel) TableName() string { return "tool_usage_audit" }
