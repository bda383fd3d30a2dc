// Package api wires the HTTP surface: route registration, handlers and
// their collaborator interfaces.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/user"
)

// userPayload is the public projection of a user record.
type userPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func presentUser(u *user.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		AvatarURL: u.AvatarURL,
	}
}

// fail writes the uniform error envelope. Messages stay categorized and
// non-revealing; the status code carries the rest.
func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}
