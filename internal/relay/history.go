package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
)

// renderer turns blocks back into the text the model reads. Interactive
// blocks are rendered in the same fenced form the model writes them in;
// answers are rendered against the block they answer.
type renderer struct {
	blocks map[string]block.Block
}

var _ block.Visitor[string] = renderer{}

func (renderer) VisitText(b *block.Text) string { return b.Text }

func (renderer) VisitButtonGroup(b *block.ButtonGroup) string { return fence(b) }

func (renderer) VisitMultiSelect(b *block.MultiSelect) string { return fence(b) }

func (r renderer) VisitInteractionResponse(b *block.InteractionResponse) string {
	switch q := r.blocks[b.Ref].(type) {
	case *block.ButtonGroup:
		labels := make([]string, 0, len(b.Values))
		for _, id := range b.Values {
			labels = append(labels, buttonLabel(q, id))
		}
		return fmt.Sprintf("For %q I chose: %s", q.Label, strings.Join(labels, ", "))
	case *block.MultiSelect:
		if len(b.Values) == 0 {
			return fmt.Sprintf("For %q I selected nothing.", q.Prompt)
		}
		labels := make([]string, 0, len(b.Values))
		for _, id := range b.Values {
			labels = append(labels, optionLabel(q, id))
		}
		return fmt.Sprintf("For %q I selected: %s", q.Prompt, strings.Join(labels, ", "))
	default:
		return fmt.Sprintf("My answer to %s: %s", b.Ref, strings.Join(b.Values, ", "))
	}
}

func fence(b block.Block) string {
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return block.FenceTag + "\n" + string(data) + "\n```"
}

func buttonLabel(g *block.ButtonGroup, id string) string {
	for _, b := range g.Buttons {
		if b.ID == id {
			return b.Label
		}
	}
	return id
}

func optionLabel(m *block.MultiSelect, id string) string {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Label
		}
	}
	return id
}

// replay converts stored messages into model messages. Leading assistant
// messages are dropped and consecutive messages of one role are merged, so
// the transcript starts with the user and alternates.
func replay(stored []domain.Message) []llm.Message {
	r := renderer{blocks: make(map[string]block.Block)}
	var out []llm.Message
	for i := range stored {
		m := &stored[i]
		parts := make([]string, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			if block.Interactive(b) {
				r.blocks[b.BlockID()] = b
			}
			if text := block.Visit[string](b, r); strings.TrimSpace(text) != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := llm.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		content := strings.Join(parts, "\n\n")

		switch {
		case len(out) == 0 && role == llm.RoleAssistant:
			continue
		case len(out) > 0 && out[len(out)-1].Role == role:
			out[len(out)-1].Content += "\n\n" + content
		default:
			out = append(out, llm.Message{Role: role, Content: content})
		}
	}
	return out
}

// pendingInteraction returns the interactive block that ends the
// conversation, if the last message is an assistant message ending with one.
func pendingInteraction(stored []domain.Message) block.Block {
	if len(stored) == 0 {
		return nil
	}
	last := &stored[len(stored)-1]
	if last.Role != domain.RoleAssistant {
		return nil
	}
	if b := last.Blocks.Last(); b != nil && block.Interactive(b) {
		return b
	}
	return nil
}
