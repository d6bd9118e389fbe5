// Package gateway holds what the HTTP API and the live channel share: the
// server lifecycle contract and API key authentication.
package gateway

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Gateway is a network entry point run by the serve command.
type Gateway interface {
	// Start serves until ctx is cancelled or the listener fails.
	Start(ctx context.Context) error
	// Stop shuts down gracefully within ctx's deadline.
	Stop(ctx context.Context) error
}

// Authenticator checks API keys in constant time. An empty key list lets
// every request through.
type Authenticator struct {
	keys [][]byte
}

func NewAuthenticator(keys []string) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

// Enabled reports whether keys are required.
func (a *Authenticator) Enabled() bool { return a != nil && len(a.keys) > 0 }

// Match returns a stable client id for token, or false when no key matches.
// Every key is compared so timing does not reveal which one matched.
func (a *Authenticator) Match(token string) (string, bool) {
	if !a.Enabled() {
		return "", true
	}
	match := -1
	for i, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(token), k) == 1 {
			match = i
		}
	}
	if match < 0 {
		return "", false
	}
	return "key-" + strconv.Itoa(match), true
}

// Token extracts the API key from a bearer Authorization header, falling
// back to the token query parameter for clients that cannot set headers.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ClientKey identifies the caller for rate limiting: the matched key id when
// authenticated, otherwise the remote host.
func ClientKey(r *http.Request, keyID string) string {
	if keyID != "" {
		return keyID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
