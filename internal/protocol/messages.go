// Package protocol defines the events exchanged over a session's live
// channel. Every frame is a JSON Envelope; Payload holds the event body.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
)

// Subprotocol is negotiated on the websocket upgrade.
const Subprotocol = "ideaflow-blocks-v1"

// EventType identifies the kind of event in an Envelope.
type EventType string

const (
	// Client -> server
	EventUserMessage EventType = "user_message"
	EventInteraction EventType = "interaction"
	EventPong        EventType = "pong"

	// Server -> client
	EventStreamChunk      EventType = "stream_chunk"
	EventStreamComplete   EventType = "stream_complete"
	EventToolExecuting    EventType = "tool_executing"
	EventUserMessageSaved EventType = "user_message_saved"
	EventError            EventType = "error"
	EventPing             EventType = "ping"
)

// Error codes carried by ErrorPayload.
const (
	CodeInvalidFrame  = "invalid_frame"
	CodeProtocol      = "protocol_error"
	CodeNotFound      = "not_found"
	CodeRateLimited   = "rate_limited"
	CodeModel         = "model_error"
	CodeInternal      = "internal_error"
	CodeSessionClosed = "session_closed"
)

// Tool execution statuses reported by tool_executing.
const (
	ToolRunning = "running"
	ToolSuccess = string(domain.UsageSuccess)
	ToolFailed  = string(domain.UsageFailed)
	ToolDenied  = string(domain.UsageDenied)
	ToolBlocked = string(domain.UsageBlocked)
)

// Envelope wraps every frame on the channel.
type Envelope struct {
	Type      EventType       `json:"type"`
	ID        string          `json:"id"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(t EventType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      t,
		ID:        uuid.NewString(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into target.
func (e *Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, target)
}

// ParseEnvelope decodes a raw frame. Failures are protocol errors.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, domain.Protocolf("malformed frame: %v", err)
	}
	if env.Type == "" {
		return nil, domain.Protocolf("frame has no type")
	}
	return &env, nil
}

// --- Client payloads ---

type UserMessagePayload struct {
	Content string `json:"content"`
}

// InteractionPayload answers a pending interactive block. Value is a single
// button id for a button group or a list of option ids for a multi select.
type InteractionPayload struct {
	BlockID string           `json:"blockId"`
	Value   InteractionValue `json:"value"`
}

// InteractionValue accepts a JSON string or array of strings.
type InteractionValue struct {
	Values []string
	IsList bool
}

func (v InteractionValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		if v.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Values)
	}
	if len(v.Values) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(v.Values[0])
}

func (v *InteractionValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = InteractionValue{Values: []string{s}}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("value must be a string or a list of strings")
	}
	if list == nil {
		list = []string{}
	}
	*v = InteractionValue{Values: list, IsList: true}
	return nil
}

// Single returns a one-element value.
func Single(s string) InteractionValue { return InteractionValue{Values: []string{s}} }

// List returns a list value.
func List(s ...string) InteractionValue {
	if s == nil {
		s = []string{}
	}
	return InteractionValue{Values: s, IsList: true}
}

// --- Server payloads ---

type StreamChunkPayload struct {
	MessageID string      `json:"messageId"`
	Block     block.Block `json:"block"`
}

type StreamCompletePayload struct {
	MessageID           string `json:"messageId"`
	AwaitingInteraction bool   `json:"awaitingInteraction"`
	PendingBlockID      string `json:"pendingBlockId,omitempty"`
}

type ToolExecutingPayload struct {
	ToolName string `json:"toolName"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type UserMessageSavedPayload struct {
	Message MessageView `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MessageView is the wire form of a stored message.
type MessageView struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Seq       int        `json:"seq"`
	Role      string     `json:"role"`
	Blocks    block.List `json:"blocks"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ViewOf converts a stored message.
func ViewOf(m *domain.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		SessionID: m.SessionID.String(),
		Seq:       m.Seq,
		Role:      string(m.Role),
		Blocks:    m.Blocks,
		CreatedAt: m.CreatedAt,
	}
}

// DecodeStreamChunk is the client-side decoder for stream_chunk, which
// needs the block discriminator.
func DecodeStreamChunk(env *Envelope) (string, block.Block, error) {
	var raw struct {
		MessageID string          `json:"messageId"`
		Block     json.RawMessage `json:"block"`
	}
	if err := env.Decode(&raw); err != nil {
		return "", nil, err
	}
	b, err := block.Unmarshal(raw.Block)
	if err != nil {
		return "", nil, err
	}
	return raw.MessageID, b, nil
}

// DecodeUserMessageSaved decodes the echoed message, blocks included.
func DecodeUserMessageSaved(env *Envelope) (*MessageView, error) {
	var p UserMessageSavedPayload
	if err := env.Decode(&p); err != nil {
		return nil, err
	}
	return &p.Message, nil
}
