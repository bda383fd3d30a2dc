package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/token"
	"github.com/strobelt/aegis/internal/user"
)

// UserDirectory is the account-status collaborator consulted after
// signature verification. Token validity alone is insufficient: an
// account deleted or suspended after minting invalidates its tokens.
type UserDirectory interface {
	ByID(ctx context.Context, id int64) (*user.User, error)
}

// Verifier is the token-service surface the auth stage needs.
type Verifier interface {
	Verify(tokenStr string) (*token.Claims, error)
	IsRevoked(ctx context.Context, tokenStr string) bool
}

// RequireAuth gates a route group on a valid bearer token. Stages, each
// short-circuiting with 401: bearer extraction, blacklist membership,
// signature+expiry verification, account status. On success the
// Identity is attached to the request context.
//
// The failure categories (missing/malformed/expired/revoked/invalid,
// account inactive) are deliberately distinguishable so clients know
// whether to refresh or re-login; nothing finer leaks.
func RequireAuth(tokens Verifier, users UserDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "missing token")
			return
		}

		if tokens.IsRevoked(c.Request.Context(), raw) {
			unauthorized(c, "token revoked")
			return
		}

		claims, err := tokens.Verify(raw)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpired):
				unauthorized(c, "token expired")
			case errors.Is(err, token.ErrMalformed):
				unauthorized(c, "malformed token")
			default:
				unauthorized(c, "invalid token")
			}
			return
		}

		u, err := users.ByID(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				unauthorized(c, "user not found")
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
			return
		}
		if !u.Active() {
			unauthorized(c, "account inactive")
			return
		}

		setIdentity(c, Identity{
			UserID: u.ID,
			Email:  u.Email,
			Role:   u.Role,
			Status: u.Status,
		})
		c.Next()
	}
}

// RequireRole gates a route on the authenticated identity's role. Mount
// after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			unauthorized(c, "missing token")
			return
		}
		if _, ok := allowed[id.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// BearerToken extracts the credential from "Bearer <token>". The keyword
// is case-insensitive; anything else is treated as no token at all.
// Shared with handlers that operate on the raw token (logout, refresh)
// so the header grammar cannot drift.
func BearerToken(header string) (string, bool) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(rest)
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msg})
}
