package toolschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bashSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"command"},
	}
}

func TestCompileAndValidate(t *testing.T) {
	s, err := Compile(bashSchema())
	require.NoError(t, err)

	assert.NoError(t, s.Validate(map[string]any{"command": "ls", "timeout": 5}))
	assert.Error(t, s.Validate(map[string]any{"timeout": 5}))
	assert.Error(t, s.Validate(map[string]any{"command": 42}))
}

func TestCompileRejectsNonObject(t *testing.T) {
	_, err := Compile(map[string]any{"type": "string"})
	assert.Error(t, err)

	_, err = Compile(map[string]any{"type": "object", "properties": []any{"x"}})
	assert.Error(t, err)
}

func TestValidateProperty(t *testing.T) {
	assert.NoError(t, ValidateProperty(bashSchema(), "timeout", 30))
	assert.Error(t, ValidateProperty(bashSchema(), "timeout", "soon"))
	assert.Error(t, ValidateProperty(bashSchema(), "missing", 1))
}

func TestCloneIsDeep(t *testing.T) {
	src := bashSchema()
	cp := Clone(src)
	Properties(cp)["command"].(map[string]any)["type"] = "number"
	delete(Properties(cp), "timeout")

	assert.Equal(t, "string", Properties(src)["command"].(map[string]any)["type"])
	assert.True(t, HasProperty(src, "timeout"))
	assert.False(t, HasProperty(cp, "timeout"))
}
