package block

import (
	"errors"
	"fmt"
	"strings"
)

// FenceTag opens an interactive block segment in model output:
//
//	```block
//	{"type":"button_group","label":"Next?","buttons":[...]}
//	```
const FenceTag = "```block"

// Splitter turns streamed model text into an ordered sequence of blocks.
// It works line by line: text accumulates until an interactive fence opens,
// a blank line arrives after FlushSize bytes, or Flush is called. Blank lines
// inside an ordinary code fence never split text.
//
// A Splitter is not safe for concurrent use.
type Splitter struct {
	// FlushSize is the text size after which a blank line ends a text block.
	// Zero keeps text together until a fence or Flush.
	FlushSize int

	partial strings.Builder
	text    strings.Builder
	fenced  strings.Builder
	inBlock bool
	inCode  bool
}

// NewSplitter returns a Splitter with the given paragraph flush size.
func NewSplitter(flushSize int) *Splitter {
	return &Splitter{FlushSize: flushSize}
}

// Write feeds a text delta and returns the blocks it completed. A malformed
// fenced block is returned as text along with a non-nil error describing it.
func (s *Splitter) Write(chunk string) ([]Block, error) {
	var out []Block
	var errs []error
	for chunk != "" {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			s.partial.WriteString(chunk)
			break
		}
		s.partial.WriteString(chunk[:i+1])
		chunk = chunk[i+1:]
		line := s.partial.String()
		s.partial.Reset()
		b, err := s.line(line)
		out = append(out, b...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Flush completes whatever is pending at the end of a model round and resets
// the splitter for the next one.
func (s *Splitter) Flush() ([]Block, error) {
	var out []Block
	var err error
	if s.partial.Len() > 0 {
		line := s.partial.String()
		s.partial.Reset()
		out, err = s.line(line)
	}
	if s.inBlock {
		// Unterminated fence: keep the raw text.
		s.text.WriteString(FenceTag + "\n" + s.fenced.String())
		s.fenced.Reset()
		s.inBlock = false
		err = errors.Join(err, fmt.Errorf("%w: unterminated block fence", ErrInvalid))
	}
	if t := s.flushText(); t != nil {
		out = append(out, t)
	}
	s.inCode = false
	return out, err
}

// Reset drops all buffered state.
func (s *Splitter) Reset() {
	s.partial.Reset()
	s.text.Reset()
	s.fenced.Reset()
	s.inBlock = false
	s.inCode = false
}

func (s *Splitter) line(line string) ([]Block, error) {
	trimmed := strings.TrimSpace(line)

	if s.inBlock {
		if trimmed != "```" {
			s.fenced.WriteString(line)
			return nil, nil
		}
		s.inBlock = false
		raw := s.fenced.String()
		s.fenced.Reset()
		b, err := ParseFenced(raw)
		if err != nil {
			return []Block{&Text{ID: NewID(), Text: strings.TrimSpace(FenceTag + "\n" + raw + "```")}}, err
		}
		return []Block{b}, nil
	}

	if !s.inCode && trimmed == FenceTag {
		s.inBlock = true
		if t := s.flushText(); t != nil {
			return []Block{t}, nil
		}
		return nil, nil
	}

	switch {
	case s.inCode && len(trimmed) >= 3 && strings.Trim(trimmed, "`") == "":
		s.inCode = false
	case !s.inCode && strings.HasPrefix(trimmed, "```"):
		s.inCode = true
	}
	s.text.WriteString(line)

	if !s.inCode && trimmed == "" && s.FlushSize > 0 && s.text.Len() >= s.FlushSize {
		if t := s.flushText(); t != nil {
			return []Block{t}, nil
		}
	}
	return nil, nil
}

func (s *Splitter) flushText() Block {
	txt := strings.TrimSpace(s.text.String())
	s.text.Reset()
	if txt == "" {
		return nil
	}
	return &Text{ID: NewID(), Text: txt}
}

// ParseFenced decodes the JSON body of a model-authored fence and assigns a
// fresh server id. Interaction responses come only from clients and are
// rejected here.
func ParseFenced(raw string) (Block, error) {
	b, err := Unmarshal([]byte(raw))
	if err != nil {
		return nil, err
	}
	id := NewID()
	switch b := b.(type) {
	case *Text:
		b.ID = id
	case *ButtonGroup:
		b.ID = id
	case *MultiSelect:
		b.ID = id
	case *InteractionResponse:
		return nil, invalidf("interaction_response cannot be authored by the model")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
