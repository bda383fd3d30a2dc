// Package middleware implements the request pipeline stages that gate
// every route: rate limiting and bearer-token authentication. CORS runs
// ahead of both and is configured on the router.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "aegis.identity"

// Identity is the authenticated principal for the lifetime of one
// request. Never persisted.
type Identity struct {
	UserID int64
	Email  string
	Role   string
	Status string
}

// IdentityFrom returns the identity injected by the auth stage.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func setIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// ClientID derives the rate-limit identity of a request. Trust-the-proxy
// behavior: the X-Forwarded-For chain wins, so a caller that can reach
// the server without the reverse proxy can spoof its identity. Deploy
// behind a trusted proxy or strip these headers at the edge.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
