package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/metrics"
	"github.com/strobelt/aegis/internal/middleware"
	"github.com/strobelt/aegis/internal/ratelimit"
	"github.com/strobelt/aegis/internal/token"
	"github.com/strobelt/aegis/internal/user"
)

// UserStore is the persistence surface the handlers need.
type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	ByID(ctx context.Context, id int64) (*user.User, error)
	ByEmail(ctx context.Context, email string) (*user.User, error)
	Update(ctx context.Context, u *user.User) error
	UpdateAvatar(ctx context.Context, id int64, url string) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, offset, limit int) ([]user.User, error)
	Count(ctx context.Context) (int, error)
}

// TokenService is the session-token surface the handlers need.
type TokenService interface {
	Mint(ctx context.Context, userID int64, email, role string) (string, *token.Claims, error)
	Verify(tokenStr string) (*token.Claims, error)
	Revoke(ctx context.Context, tokenStr string) error
	Refresh(ctx context.Context, tokenStr string) (string, *token.Claims, error)
	IsRevoked(ctx context.Context, tokenStr string) bool
}

// AuthHandler implements the session lifecycle: register, login,
// logout, refresh and the identity echo.
type AuthHandler struct {
	users    UserStore
	tokens   TokenService
	throttle *ratelimit.LoginThrottle
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewAuthHandler wires the session-lifecycle handler.
func NewAuthHandler(users UserStore, tokens TokenService, throttle *ratelimit.LoginThrottle, m *metrics.Metrics, log *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, throttle: throttle, metrics: m, log: log}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "name, email and password are required")
		return
	}

	hash, err := user.HashPassword(req.Password)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	u := &user.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Role:         user.RoleUser,
		Status:       user.StatusActive,
	}
	if err := h.users.Create(c.Request.Context(), u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			fail(c, http.StatusConflict, "email already registered")
			return
		}
		h.log.Error("register: create failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	signed, _, err := h.tokens.Mint(c.Request.Context(), u.ID, u.Email, u.Role)
	if err != nil {
		h.log.Error("register: mint failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": signed, "user": presentUser(u)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/v1/auth/login.
//
// The failed-attempt throttle is checked before credentials, so past
// the cap even a correct password gets the rate-limit answer. Unknown
// email and wrong password are indistinguishable to the caller.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}

	ctx := c.Request.Context()
	client := middleware.ClientID(c.Request)

	if h.throttle.Blocked(ctx, client) {
		c.Header("Retry-After", strconv.Itoa(int(ratelimit.LoginWindow.Seconds())))
		fail(c, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	u, err := h.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.loginFailed(ctx, client, email)
			fail(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("login: lookup failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	ok, err := user.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil || !ok {
		h.loginFailed(ctx, client, email)
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !u.Active() {
		fail(c, http.StatusUnauthorized, "account inactive")
		return
	}

	signed, _, err := h.tokens.Mint(ctx, u.ID, u.Email, u.Role)
	if err != nil {
		h.log.Error("login: mint failed", "err", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	h.throttle.Clear(ctx, client)
	c.JSON(http.StatusOK, gin.H{"token": signed, "user": presentUser(u)})
}

func (h *AuthHandler) loginFailed(ctx context.Context, client, email string) {
	h.throttle.Fail(ctx, client)
	if h.metrics != nil {
		h.metrics.LoginFailures.Inc()
	}
	h.log.Warn("login failed", "client", client, "email", email)
}

// Logout handles POST /api/v1/auth/logout. Mounted outside RequireAuth
// so an already-revoked or just-expired token can still be logged out:
// any presented bearer answers success, because logging out a dead
// token is not an error. Revoke itself is signature-checked, so a
// forged token cannot blacklist anything.
func (h *AuthHandler) Logout(c *gin.Context) {
	raw := rawBearer(c)
	if raw == "" {
		fail(c, http.StatusUnauthorized, "missing token")
		return
	}
	if err := h.tokens.Revoke(c.Request.Context(), raw); err != nil {
		h.log.Warn("logout: revoke failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/v1/auth/refresh. The presented token must
// verify; the reissued token carries the same subject and role. The old
// token stays valid until its own expiry.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := rawBearer(c)
	if raw == "" {
		fail(c, http.StatusUnauthorized, "missing token")
		return
	}

	signed, _, err := h.tokens.Refresh(c.Request.Context(), raw)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

// Me handles GET /api/v1/me: the identity from the pipeline plus a
// fresh read of the record.
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "missing token")
		return
	}

	u, err := h.users.ByID(c.Request.Context(), id.UserID)
	if err != nil {
		fail(c, http.StatusNotFound, "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": presentUser(u)})
}

// rawBearer extracts the credential for handlers that operate on the
// token itself (logout, refresh).
func rawBearer(c *gin.Context) string {
	raw, _ := middleware.BearerToken(c.GetHeader("Authorization"))
	return raw
}
