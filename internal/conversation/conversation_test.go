package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/domain"
)

func TestAppendAndListMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := &domain.Session{AgentTypeID: uuid.New(), AgentTypeName: "brainstorm"}
	require.NoError(t, store.CreateSession(ctx, sess))
	assert.Equal(t, domain.SessionActive, sess.Status)

	for i := range 5 {
		m := &domain.Message{SessionID: sess.ID, Role: domain.RoleUser, Blocks: block.List{&block.Text{ID: block.NewID(), Text: string(rune('a' + i))}}}
		require.NoError(t, store.AppendMessage(ctx, m))
		assert.Equal(t, i+1, m.Seq)
		assert.NotEmpty(t, m.ID)
	}

	all, err := store.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Seq, all[i].Seq)
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	last, err := store.ListMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 4, last[0].Seq)

	err = store.AppendMessage(ctx, &domain.Message{SessionID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStatusIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess := &domain.Session{AgentTypeID: uuid.New()}
	require.NoError(t, store.CreateSession(ctx, sess))

	_, err := store.UpdateStatus(ctx, sess.ID, domain.SessionPaused)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, sess.ID, domain.SessionCompleted)
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, sess.ID, domain.SessionActive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.SessionCompleted, te.From)

	_, err = store.UpdateStatus(ctx, sess.ID, "deleted")
	assert.ErrorIs(t, err, domain.ErrInvalid)

	got, err := store.UpdateStatus(ctx, sess.ID, domain.SessionArchived)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionArchived, got.Status)

	_, err = store.UpdateStatus(ctx, uuid.New(), domain.SessionPaused)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListSessionsFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agent := uuid.New()
	a := &domain.Session{AgentTypeID: agent}
	b := &domain.Session{AgentTypeID: uuid.New()}
	require.NoError(t, store.CreateSession(ctx, a))
	require.NoError(t, store.CreateSession(ctx, b))
	_, err := store.UpdateStatus(ctx, b.ID, domain.SessionCompleted)
	require.NoError(t, err)

	got, err := store.ListSessions(ctx, Filter{Status: domain.SessionCompleted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = store.ListSessions(ctx, Filter{AgentTypeID: agent})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = store.ListSessions(ctx, Filter{UpdatedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServiceStart(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewMemoryStore()
	svc := catalog.NewService(cat, logger)
	require.NoError(t, svc.SaveAgentType(ctx, &domain.AgentType{Name: "brainstorm", Label: "Brainstorm", Model: "m", Enabled: true, IsDefault: true}))
	require.NoError(t, svc.SaveAgentType(ctx, &domain.AgentType{Name: "off", Model: "m"}))

	conv := NewService(NewMemoryStore(), cat, logger)

	sess, err := conv.Start(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "brainstorm", sess.AgentTypeName)
	assert.Equal(t, "Brainstorm", sess.Title)
	assert.Equal(t, domain.SessionActive, sess.Status)

	_, err = conv.Start(ctx, "off", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = conv.Start(ctx, "nope", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
