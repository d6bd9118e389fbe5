package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
)

func marshalJSONB(v any) (JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(data), nil
}

func unmarshalJSONB(j JSONB, dst any) error {
	if len(j) == 0 || string(j) == "null" {
		return nil
	}
	return json.Unmarshal(j, dst)
}

func toToolModel(t *domain.Tool) (*ToolModel, error) {
	params, err := marshalJSONB(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters of tool %q: %w", t.Name, err)
	}
	tags, err := marshalJSONB(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags of tool %q: %w", t.Name, err)
	}
	return &ToolModel{
		ID:               t.ID,
		Name:             t.Name,
		Description:      t.Description,
		Category:         t.Category,
		Source:           string(t.Source),
		Parameters:       params,
		Endpoint:         t.Endpoint,
		Enabled:          t.Enabled,
		Dangerous:        t.Dangerous,
		RequiresApproval: t.RequiresApproval,
		Tags:             tags,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}, nil
}

func toTool(m *ToolModel) (domain.Tool, error) {
	t := domain.Tool{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		Category:         m.Category,
		Source:           domain.ToolSource(m.Source),
		Endpoint:         m.Endpoint,
		Enabled:          m.Enabled,
		Dangerous:        m.Dangerous,
		RequiresApproval: m.RequiresApproval,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if err := unmarshalJSONB(m.Parameters, &t.Parameters); err != nil {
		return t, fmt.Errorf("decoding parameters of tool %q: %w", m.Name, err)
	}
	if err := unmarshalJSONB(m.Tags, &t.Tags); err != nil {
		return t, fmt.Errorf("decoding tags of tool %q: %w", m.Name, err)
	}
	return t, nil
}

func toAgentTypeModel(a *domain.AgentType) *AgentTypeModel {
	return &AgentTypeModel{
		ID:           a.ID,
		Name:         a.Name,
		Label:        a.Label,
		Description:  a.Description,
		Avatar:       a.Avatar,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Temperature:  a.Temperature,
		Streaming:    a.Streaming,
		ContextLimit: a.ContextLimit,
		MaxTokens:    a.MaxTokens,
		Enabled:      a.Enabled,
		IsDefault:    a.IsDefault,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toAgentType(m *AgentTypeModel) *domain.AgentType {
	return &domain.AgentType{
		ID:           m.ID,
		Name:         m.Name,
		Label:        m.Label,
		Description:  m.Description,
		Avatar:       m.Avatar,
		Model:        m.Model,
		SystemPrompt: m.SystemPrompt,
		Temperature:  m.Temperature,
		Streaming:    m.Streaming,
		ContextLimit: m.ContextLimit,
		MaxTokens:    m.MaxTokens,
		Enabled:      m.Enabled,
		IsDefault:    m.IsDefault,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toAssignmentModel(a *domain.ToolAssignment) (*AssignmentModel, error) {
	constraints, err := marshalJSONB(a.Constraints)
	if err != nil {
		return nil, fmt.Errorf("encoding constraints: %w", err)
	}
	return &AssignmentModel{
		ID:               a.ID,
		AgentTypeID:      a.AgentTypeID,
		ToolID:           a.ToolID,
		EnabledForAgent:  a.EnabledForAgent,
		SortOrder:        a.Order,
		AllowUse:         a.AllowUse,
		RequiresApproval: a.RequiresApproval,
		UsageLimit:       a.UsageLimit,
		Constraints:      constraints,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}, nil
}

func toAssignment(m *AssignmentModel) (domain.ToolAssignment, error) {
	a := domain.ToolAssignment{
		ID:               m.ID,
		AgentTypeID:      m.AgentTypeID,
		ToolID:           m.ToolID,
		EnabledForAgent:  m.EnabledForAgent,
		Order:            m.SortOrder,
		AllowUse:         m.AllowUse,
		RequiresApproval: m.RequiresApproval,
		UsageLimit:       m.UsageLimit,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if err := unmarshalJSONB(m.Constraints, &a.Constraints); err != nil {
		return a, fmt.Errorf("decoding constraints of assignment %s: %w", m.ID, err)
	}
	return a, nil
}

func toBinding(m *AssignmentModel) (domain.Binding, error) {
	a, err := toAssignment(m)
	if err != nil {
		return domain.Binding{}, err
	}
	t, err := toTool(&m.Tool)
	if err != nil {
		return domain.Binding{}, err
	}
	return domain.Binding{Assignment: a, Tool: t}, nil
}

func toSessionModel(s *domain.Session) *SessionModel {
	return &SessionModel{
		ID:            s.ID,
		AgentTypeID:   s.AgentTypeID,
		AgentTypeName: s.AgentTypeName,
		Title:         s.Title,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toSession(m *SessionModel) *domain.Session {
	return &domain.Session{
		ID:            m.ID,
		AgentTypeID:   m.AgentTypeID,
		AgentTypeName: m.AgentTypeName,
		Title:         m.Title,
		Status:        domain.SessionStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toMessage(m *MessageModel) (domain.Message, error) {
	msg := domain.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		Seq:       m.Seq,
		Role:      domain.Role(m.Role),
		CreatedAt: m.CreatedAt,
	}
	var blocks block.List
	if err := unmarshalJSONB(m.Blocks, &blocks); err != nil {
		return msg, fmt.Errorf("decoding blocks of message %s: %w", m.ID, err)
	}
	msg.Blocks = blocks
	return msg, nil
}

func toAuditModel(r *domain.UsageAuditRecord) (*UsageAuditModel, error) {
	params, err := marshalJSONB(r.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encoding audit parameters: %w", err)
	}
	return &UsageAuditModel{
		ID:          r.ID,
		SessionID:   r.SessionID,
		AgentTypeID: r.AgentTypeID,
		ToolName:    r.ToolName,
		Parameters:  params,
		Result:      r.Result,
		Status:      string(r.Status),
		Executed:    r.Executed,
		LatencyMs:   r.LatencyMs,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func toAuditRecord(m *UsageAuditModel) (domain.UsageAuditRecord, error) {
	r := domain.UsageAuditRecord{
		ID:          m.ID,
		SessionID:   m.SessionID,
		AgentTypeID: m.AgentTypeID,
		ToolName:    m.ToolName,
		Result:      m.Result,
		Status:      domain.UsageStatus(m.Status),
		Executed:    m.Executed,
		LatencyMs:   m.LatencyMs,
		CreatedAt:   m.CreatedAt,
	}
	if err := unmarshalJSONB(m.Parameters, &r.Parameters); err != nil {
		return r, fmt.Errorf("decoding audit parameters %s: %w", m.ID, err)
	}
	return r, nil
}
