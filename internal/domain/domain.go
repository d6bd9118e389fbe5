// Package domain defines the catalog, conversation and audit entities shared
// across the system. Types here carry no storage or transport tags.
package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ToolSource identifies where a tool's implementation lives.
type ToolSource string

const (
	SourceBuiltin     ToolSource = "builtin"     // Compiled into the binary.
	SourceCustom      ToolSource = "custom"      // Webhook endpoint configured by an administrator.
	SourceIntegration ToolSource = "integration" // Discovered from an MCP server.
)

// Valid reports whether s is a recognized source kind.
func (s ToolSource) Valid() bool {
	switch s {
	case SourceBuiltin, SourceCustom, SourceIntegration:
		return true
	}
	return false
}

// UnlimitedUsage is the UsageLimit sentinel meaning "no per-session cap".
const UnlimitedUsage = -1

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidToolName reports whether name is acceptable as a function-call name.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// Tool is a callable capability with a declared JSON Schema for its parameters.
// Name is the identity and never changes after creation.
type Tool struct {
	ID               uuid.UUID
	Name             string
	Description      string
	Category         string
	Source           ToolSource
	Parameters       map[string]any // JSON Schema, type "object".
	Endpoint         string         // Webhook URL for SourceCustom tools.
	Enabled          bool
	Dangerous        bool
	RequiresApproval bool
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AgentType is a named model configuration that sessions are bound to.
type AgentType struct {
	ID           uuid.UUID
	Name         string
	Label        string
	Description  string
	Avatar       string
	Model        string
	SystemPrompt string
	Temperature  float64
	Streaming    bool
	ContextLimit int // Number of prior messages replayed to the model. 0 = all.
	MaxTokens    int
	Enabled      bool
	IsDefault    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ParameterConstraints narrows a tool's schema for one agent type.
type ParameterConstraints struct {
	// Allowed whitelists schema properties. Empty means no whitelist.
	Allowed []string `json:"allowed_parameters,omitempty" yaml:"allowed_parameters"`
	// Denied maps a parameter key to denied values. An empty list denies the key itself.
	Denied map[string][]string `json:"denied_parameters,omitempty" yaml:"denied_parameters"`
	// Defaults are injected as schema defaults and merged into calls.
	Defaults map[string]any `json:"parameter_defaults,omitempty" yaml:"parameter_defaults"`
}

// IsZero reports whether no constraint is set.
func (c ParameterConstraints) IsZero() bool {
	return len(c.Allowed) == 0 && len(c.Denied) == 0 && len(c.Defaults) == 0
}

// ToolAssignment configures one tool for one agent type.
// At most one assignment exists per (AgentTypeID, ToolID).
type ToolAssignment struct {
	ID               uuid.UUID
	AgentTypeID      uuid.UUID
	ToolID           uuid.UUID
	EnabledForAgent  bool
	Order            int
	AllowUse         bool
	RequiresApproval *bool // nil inherits Tool.RequiresApproval.
	UsageLimit       int   // Calls per session. UnlimitedUsage = no cap.
	Constraints      ParameterConstraints
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Binding is an assignment joined with its tool, as read in one snapshot.
type Binding struct {
	Assignment ToolAssignment
	Tool       Tool
}

// UsageStatus is the outcome of a tool invocation attempt.
type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageFailed  UsageStatus = "failed"
	UsageDenied  UsageStatus = "denied"
	UsageBlocked UsageStatus = "blocked"
)

// UsageAuditRecord is one immutable row of tool invocation history.
type UsageAuditRecord struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	AgentTypeID uuid.UUID
	ToolName    string
	Parameters  map[string]any
	Result      string
	Status      UsageStatus
	// Executed is false when the call was stopped before the tool ran.
	Executed  bool
	LatencyMs int64
	CreatedAt time.Time
}
