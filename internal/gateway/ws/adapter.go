package ws

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/relay"
)

// RelayAttacher adapts a relay.Relay to Attacher.
type RelayAttacher struct {
	Relay *relay.Relay
}

var (
	_ Attacher     = RelayAttacher{}
	_ Conversation = (*relay.Session)(nil)
)

func (a RelayAttacher) Attach(ctx context.Context, sessionID uuid.UUID, out chan<- *protocol.Envelope) (Conversation, error) {
	s, err := a.Relay.Attach(ctx, sessionID, out)
	if err != nil {
		return nil, err
	}
	return s, nil
}
