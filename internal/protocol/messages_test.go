package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
)

func TestInteractionValue(t *testing.T) {
	var p InteractionPayload
	require.NoError(t, json.Unmarshal([]byte(`{"blockId":"b1","value":"yes"}`), &p))
	assert.Equal(t, "b1", p.BlockID)
	assert.Equal(t, Single("yes"), p.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"blockId":"b2","value":["a","c"]}`), &p))
	assert.Equal(t, List("a", "c"), p.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"blockId":"b3","value":[]}`), &p))
	assert.True(t, p.Value.IsList)
	assert.Empty(t, p.Value.Values)

	assert.Error(t, json.Unmarshal([]byte(`{"blockId":"b4","value":42}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"blockId":"b4","value":[1,2]}`), &p))

	data, err := json.Marshal(InteractionPayload{BlockID: "b5", Value: List()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"blockId":"b5","value":[]}`, string(data))
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"user_message","id":"1","payload":{"content":"hi"}}`))
	require.NoError(t, err)
	var p UserMessagePayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "hi", p.Content)

	_, err = ParseEnvelope([]byte(`{"type":`))
	assert.ErrorIs(t, err, domain.ErrProtocol)
	_, err = ParseEnvelope([]byte(`{"id":"1"}`))
	assert.ErrorIs(t, err, domain.ErrProtocol)

	empty, err := ParseEnvelope([]byte(`{"type":"user_message"}`))
	require.NoError(t, err)
	assert.Error(t, empty.Decode(&p))
}

func TestStreamChunkDecoding(t *testing.T) {
	ms := &block.MultiSelect{
		ID: "ms1", Prompt: "Which platforms?", MinSelections: 1, MaxSelections: 2,
		Options: []block.Option{{ID: "ios", Label: "iOS"}, {ID: "web", Label: "Web"}},
	}
	env, err := NewEnvelope(EventStreamChunk, StreamChunkPayload{MessageID: "m1", Block: ms})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)

	msgID, b, err := DecodeStreamChunk(parsed)
	require.NoError(t, err)
	assert.Equal(t, "m1", msgID)
	assert.Equal(t, ms, b)
}

func TestUserMessageSavedDecoding(t *testing.T) {
	msg := &domain.Message{
		ID:        block.NewID(),
		SessionID: uuid.New(),
		Seq:       3,
		Role:      domain.RoleUser,
		Blocks:    block.List{&block.InteractionResponse{ID: "r1", Ref: "bg", Values: []string{"a"}}},
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env, err := NewEnvelope(EventUserMessageSaved, UserMessageSavedPayload{Message: ViewOf(msg)})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)

	view, err := DecodeUserMessageSaved(parsed)
	require.NoError(t, err)
	assert.Equal(t, ViewOf(msg), *view)
}
