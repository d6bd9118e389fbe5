// Package block defines the closed set of content blocks exchanged between the
// model, the relay and the client, with their JSON framing.
package block

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the wire discriminator of a block.
type Kind string

const (
	KindText                Kind = "text"
	KindButtonGroup         Kind = "button_group"
	KindMultiSelect         Kind = "multi_select"
	KindInteractionResponse Kind = "interaction_response"
)

// ErrInvalid is wrapped by every validation and decoding failure.
var ErrInvalid = errors.New("invalid block")

// Block is one unit of message content. The set of implementations is closed;
// consumers switch over it with Visit.
type Block interface {
	Kind() Kind
	BlockID() string
	Validate() error
	isBlock()
}

// Text is a markdown segment.
type Text struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Button is one choice of a ButtonGroup.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"` // primary, secondary, danger.
}

// ButtonGroup asks the user to pick exactly one button.
type ButtonGroup struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Buttons []Button `json:"buttons"`
}

// Option is one entry of a MultiSelect.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MultiSelect asks the user to pick between MinSelections and MaxSelections options.
type MultiSelect struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []Option `json:"options"`
	MinSelections int      `json:"min_selections"`
	MaxSelections int      `json:"max_selections"`
}

// InteractionResponse records the user's answer to a prior interactive block.
type InteractionResponse struct {
	ID     string   `json:"id"`
	Ref    string   `json:"block_id"` // ID of the answered block.
	Values []string `json:"values"`
}

func (*Text) Kind() Kind                { return KindText }
func (*ButtonGroup) Kind() Kind         { return KindButtonGroup }
func (*MultiSelect) Kind() Kind         { return KindMultiSelect }
func (*InteractionResponse) Kind() Kind { return KindInteractionResponse }

func (b *Text) BlockID() string                { return b.ID }
func (b *ButtonGroup) BlockID() string         { return b.ID }
func (b *MultiSelect) BlockID() string         { return b.ID }
func (b *InteractionResponse) BlockID() string { return b.ID }

func (*Text) isBlock()                {}
func (*ButtonGroup) isBlock()         {}
func (*MultiSelect) isBlock()         {}
func (*InteractionResponse) isBlock() {}

// Interactive reports whether b expects a client interaction.
func Interactive(b Block) bool {
	switch b.(type) {
	case *ButtonGroup, *MultiSelect:
		return true
	}
	return false
}

// Visitor handles every block kind. Adding a kind adds a method here, which
// breaks every implementation until it is handled.
type Visitor[T any] interface {
	VisitText(*Text) T
	VisitButtonGroup(*ButtonGroup) T
	VisitMultiSelect(*MultiSelect) T
	VisitInteractionResponse(*InteractionResponse) T
}

// Visit dispatches b to the matching Visitor method.
func Visit[T any](b Block, v Visitor[T]) T {
	switch b := b.(type) {
	case *Text:
		return v.VisitText(b)
	case *ButtonGroup:
		return v.VisitButtonGroup(b)
	case *MultiSelect:
		return v.VisitMultiSelect(b)
	case *InteractionResponse:
		return v.VisitInteractionResponse(b)
	default:
		panic(fmt.Sprintf("block: unhandled block type %T", b))
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (b *Text) Validate() error {
	if b.ID == "" {
		return invalidf("text block without id")
	}
	return nil
}

func (b *ButtonGroup) Validate() error {
	if b.ID == "" {
		return invalidf("button_group without id")
	}
	if b.Label == "" {
		return invalidf("button_group %s: empty label", b.ID)
	}
	if len(b.Buttons) == 0 {
		return invalidf("button_group %s: no buttons", b.ID)
	}
	seen := make(map[string]bool, len(b.Buttons))
	for _, btn := range b.Buttons {
		if btn.ID == "" || btn.Label == "" {
			return invalidf("button_group %s: button needs id and label", b.ID)
		}
		if seen[btn.ID] {
			return invalidf("button_group %s: duplicate button id %q", b.ID, btn.ID)
		}
		seen[btn.ID] = true
		switch btn.Style {
		case "", "primary", "secondary", "danger":
		default:
			return invalidf("button_group %s: unknown style %q", b.ID, btn.Style)
		}
	}
	return nil
}

// HasButton reports whether id names one of the group's buttons.
func (b *ButtonGroup) HasButton(id string) bool {
	for _, btn := range b.Buttons {
		if btn.ID == id {
			return true
		}
	}
	return false
}

func (b *MultiSelect) Validate() error {
	if b.ID == "" {
		return invalidf("multi_select without id")
	}
	if b.Prompt == "" {
		return invalidf("multi_select %s: empty prompt", b.ID)
	}
	if len(b.Options) == 0 {
		return invalidf("multi_select %s: no options", b.ID)
	}
	seen := make(map[string]bool, len(b.Options))
	for _, opt := range b.Options {
		if opt.ID == "" || opt.Label == "" {
			return invalidf("multi_select %s: option needs id and label", b.ID)
		}
		if seen[opt.ID] {
			return invalidf("multi_select %s: duplicate option id %q", b.ID, opt.ID)
		}
		seen[opt.ID] = true
	}
	if b.MinSelections < 0 || b.MinSelections > b.MaxSelections || b.MaxSelections > len(b.Options) {
		return invalidf("multi_select %s: selection bounds %d..%d over %d options",
			b.ID, b.MinSelections, b.MaxSelections, len(b.Options))
	}
	return nil
}

// HasOption reports whether id names one of the options.
func (b *MultiSelect) HasOption(id string) bool {
	for _, opt := range b.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

func (b *InteractionResponse) Validate() error {
	if b.ID == "" || b.Ref == "" {
		return invalidf("interaction_response needs id and block_id")
	}
	if len(b.Values) == 0 {
		return invalidf("interaction_response %s: no values", b.ID)
	}
	return nil
}

// MarshalJSON adds the "type" discriminator.
func (b *Text) MarshalJSON() ([]byte, error) {
	type alias Text
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindText, (*alias)(b)})
}

func (b *ButtonGroup) MarshalJSON() ([]byte, error) {
	type alias ButtonGroup
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindButtonGroup, (*alias)(b)})
}

func (b *MultiSelect) MarshalJSON() ([]byte, error) {
	type alias MultiSelect
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindMultiSelect, (*alias)(b)})
}

func (b *InteractionResponse) MarshalJSON() ([]byte, error) {
	type alias InteractionResponse
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindInteractionResponse, (*alias)(b)})
}

// Unmarshal decodes one block by its "type" field. Unknown types are rejected.
func Unmarshal(data []byte) (Block, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var b Block
	switch head.Type {
	case KindText:
		b = &Text{}
	case KindButtonGroup:
		b = &ButtonGroup{}
	case KindMultiSelect:
		b = &MultiSelect{}
	case KindInteractionResponse:
		b = &InteractionResponse{}
	case "":
		return nil, invalidf("missing type")
	default:
		return nil, invalidf("unknown type %q", head.Type)
	}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, head.Type, err)
	}
	return b, nil
}

// List is an ordered sequence of blocks with polymorphic JSON.
type List []Block

func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Block(l))
}

func (l *List) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := make(List, 0, len(raws))
	for i, raw := range raws {
		b, err := Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, b)
	}
	*l = out
	return nil
}

// Last returns the final block, or nil for an empty list.
func (l List) Last() Block {
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}
