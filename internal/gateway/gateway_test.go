package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticator(t *testing.T) {
	open := NewAuthenticator(nil)
	assert.False(t, open.Enabled())
	id, ok := open.Match("anything")
	assert.True(t, ok)
	assert.Empty(t, id)

	a := NewAuthenticator([]string{"alpha", " ", "beta"})
	assert.True(t, a.Enabled())
	id, ok = a.Match("beta")
	assert.True(t, ok)
	assert.Equal(t, "key-1", id)
	_, ok = a.Match("gamma")
	assert.False(t, ok)
	_, ok = a.Match("")
	assert.False(t, ok)
}

func TestTokenAndClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/ws?token=q", nil)
	assert.Equal(t, "q", Token(r))
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", Token(r))

	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", ClientKey(r, ""))
	assert.Equal(t, "key-0", ClientKey(r, "key-0"))
}
