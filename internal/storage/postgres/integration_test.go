//go:build integration

package postgres

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := OpenStore(Config{DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestConcurrentAppendKeepsSequenceDense(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := s.Conversations()

	sess := &domain.Session{AgentTypeID: uuid.New(), AgentTypeName: "brainstorm"}
	require.NoError(t, conv.CreateSession(ctx, sess))

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- conv.AppendMessage(ctx, &domain.Message{
				SessionID: sess.ID,
				Role:      domain.RoleUser,
				Blocks:    block.List{&block.Text{ID: block.NewID(), Text: string(rune('a' + i))}},
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := conv.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Seq)
	}
}
