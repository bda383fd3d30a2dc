package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/middleware"
	"github.com/strobelt/aegis/internal/user"
)

// UserHandler implements the user CRUD surface. List and Delete are
// admin-gated in the router; Get and Update additionally allow
// self-access.
type UserHandler struct {
	users UserStore
	log   *slog.Logger
}

// NewUserHandler wires the user CRUD handler.
func NewUserHandler(users UserStore, log *slog.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx := c.Request.Context()
	users, err := h.users.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		h.log.Error("list users failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	total, err := h.users.Count(ctx)
	if err != nil {
		h.log.Error("count users failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]userPayload, len(users))
	for i := range users {
		out[i] = presentUser(&users[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"users":     out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get handles GET /api/v1/users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	id, identity, ok := h.targetUser(c)
	if !ok {
		return
	}
	if identity.Role != user.RoleAdmin && identity.Role != user.RoleModerator && identity.UserID != id {
		fail(c, http.StatusForbidden, "insufficient permissions")
		return
	}

	u, err := h.users.ByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(c, http.StatusNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": presentUser(u)})
}

type updateUserRequest struct {
	Name      *string `json:"name"`
	Password  *string `json:"password"`
	AvatarURL *string `json:"avatar_url"`
	Role      *string `json:"role"`
	Status    *string `json:"status"`
}

// Update handles PATCH /api/v1/users/:id. Role and status changes are
// admin-only regardless of the target.
func (h *UserHandler) Update(c *gin.Context) {
	id, identity, ok := h.targetUser(c)
	if !ok {
		return
	}
	isAdmin := identity.Role == user.RoleAdmin
	if !isAdmin && identity.UserID != id {
		fail(c, http.StatusForbidden, "insufficient permissions")
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.Role != nil || req.Status != nil) && !isAdmin {
		fail(c, http.StatusForbidden, "insufficient permissions")
		return
	}

	ctx := c.Request.Context()
	u, err := h.users.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(c, http.StatusNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	if req.Name != nil && *req.Name != "" {
		u.Name = *req.Name
	}
	if req.AvatarURL != nil {
		u.AvatarURL = *req.AvatarURL
	}
	if req.Password != nil {
		hash, herr := user.HashPassword(*req.Password)
		if herr != nil {
			fail(c, http.StatusBadRequest, herr.Error())
			return
		}
		u.PasswordHash = hash
	}
	if req.Role != nil {
		if !user.ValidRole(*req.Role) {
			fail(c, http.StatusBadRequest, "invalid role")
			return
		}
		u.Role = *req.Role
	}
	if req.Status != nil {
		if *req.Status != user.StatusActive && *req.Status != user.StatusSuspended {
			fail(c, http.StatusBadRequest, "invalid status")
			return
		}
		u.Status = *req.Status
	}

	if err := h.users.Update(ctx, u); err != nil {
		h.log.Error("update user failed", "id", id, "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": presentUser(u)})
}

// Delete handles DELETE /api/v1/users/:id (soft delete).
func (h *UserHandler) Delete(c *gin.Context) {
	id, _, ok := h.targetUser(c)
	if !ok {
		return
	}

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(c, http.StatusNotFound, "user not found")
			return
		}
		h.log.Error("delete user failed", "id", id, "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (h *UserHandler) targetUser(c *gin.Context) (int64, middleware.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "missing token")
		return 0, identity, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		fail(c, http.StatusBadRequest, "invalid user id")
		return 0, identity, false
	}
	return id, identity, true
}
