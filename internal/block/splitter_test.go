package block

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed writes input in small chunks to exercise line reassembly.
func feed(t *testing.T, s *Splitter, input string, size int) ([]Block, []error) {
	t.Helper()
	var blocks []Block
	var errs []error
	for len(input) > 0 {
		n := min(size, len(input))
		b, err := s.Write(input[:n])
		blocks = append(blocks, b...)
		if err != nil {
			errs = append(errs, err)
		}
		input = input[n:]
	}
	b, err := s.Flush()
	blocks = append(blocks, b...)
	if err != nil {
		errs = append(errs, err)
	}
	return blocks, errs
}

func TestSplitterTextAndButtons(t *testing.T) {
	input := "Here are three directions.\n" +
		"```block\n" +
		`{"type":"button_group","label":"Which one?","buttons":[{"id":"a","label":"Alpha"},{"id":"b","label":"Beta"}]}` + "\n" +
		"```\n"

	blocks, errs := feed(t, NewSplitter(0), input, 7)
	require.Empty(t, errs)
	require.Len(t, blocks, 2)

	txt, ok := blocks[0].(*Text)
	require.True(t, ok)
	assert.Equal(t, "Here are three directions.", txt.Text)

	bg, ok := blocks[1].(*ButtonGroup)
	require.True(t, ok)
	assert.Equal(t, "Which one?", bg.Label)
	assert.NotEmpty(t, bg.ID)
	assert.True(t, bg.HasButton("b"))
}

func TestSplitterKeepsCodeFenceTogether(t *testing.T) {
	input := "Intro paragraph that is long enough.\n\n" +
		"```go\nfunc main() {\n\n\tprintln(1)\n}\n```\n\nTail.\n"

	blocks, errs := feed(t, NewSplitter(10), input, 3)
	require.Empty(t, errs)
	require.Len(t, blocks, 3)
	assert.Equal(t, "Intro paragraph that is long enough.", blocks[0].(*Text).Text)
	assert.True(t, strings.HasPrefix(blocks[1].(*Text).Text, "```go"))
	assert.Contains(t, blocks[1].(*Text).Text, "println(1)")
	assert.Equal(t, "Tail.", blocks[2].(*Text).Text)
}

func TestSplitterBlockFenceInsideCodeIsText(t *testing.T) {
	input := "```markdown\n```block\n```\n"
	blocks, errs := feed(t, NewSplitter(0), input, 100)
	require.Empty(t, errs)
	require.Len(t, blocks, 1)
	assert.IsType(t, &Text{}, blocks[0])
}

func TestSplitterMalformedFallsBackToText(t *testing.T) {
	input := "Before\n```block\n{not json}\n```\nAfter\n"
	blocks, errs := feed(t, NewSplitter(0), input, 5)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalid)
	require.Len(t, blocks, 3)
	assert.Equal(t, "Before", blocks[0].(*Text).Text)
	assert.Contains(t, blocks[1].(*Text).Text, "{not json}")
	assert.Equal(t, "After", blocks[2].(*Text).Text)
}

func TestSplitterRejectsModelAuthoredResponse(t *testing.T) {
	input := "```block\n{\"type\":\"interaction_response\",\"block_id\":\"x\",\"values\":[\"a\"]}\n```\n"
	blocks, errs := feed(t, NewSplitter(0), input, 100)
	require.Len(t, errs, 1)
	require.Len(t, blocks, 1)
	assert.IsType(t, &Text{}, blocks[0])
}

func TestSplitterUnterminatedFence(t *testing.T) {
	blocks, errs := feed(t, NewSplitter(0), "```block\n{\"type\":\"text\"", 4)
	require.Len(t, errs, 1)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].(*Text).Text, "```block")
}

func TestSplitterFlushWithoutNewline(t *testing.T) {
	s := NewSplitter(0)
	b, err := s.Write("partial answer")
	require.NoError(t, err)
	assert.Empty(t, b)
	b, err = s.Flush()
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, "partial answer", b[0].(*Text).Text)

	b, err = s.Flush()
	require.NoError(t, err)
	assert.Empty(t, b)
}
