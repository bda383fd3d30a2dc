package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/strobelt/aegis/internal/cache"
	"github.com/strobelt/aegis/internal/token"
	"github.com/strobelt/aegis/internal/user"
)

type fakeDirectory struct {
	users map[int64]*user.User
}

func (d *fakeDirectory) ByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func newAuthFixture(t *testing.T) (*gin.Engine, *token.Service, *fakeDirectory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := token.NewService([]byte("middleware-test-secret"), cache.NewRedisWithClient(rdb, slog.Default()))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	dir := &fakeDirectory{users: map[int64]*user.User{
		1: {ID: 1, Email: "alice@example.com", Role: user.RoleAdmin, Status: user.StatusActive},
		2: {ID: 2, Email: "bob@example.com", Role: user.RoleUser, Status: user.StatusSuspended},
	}}

	r := gin.New()
	protected := r.Group("/", RequireAuth(tokens, dir))
	protected.GET("/whoami", func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
	})
	protected.GET("/admin", RequireRole(user.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return r, tokens, dir
}

func doAuth(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func message(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	return body.Message
}

func TestAuthHappyPath(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	signed, _, _ := tokens.Mint(context.Background(), 1, "alice@example.com", user.RoleAdmin)

	w := doAuth(r, "/whoami", "Bearer "+signed)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body)
	}

	// Keyword is case-insensitive.
	w = doAuth(r, "/whoami", "bearer "+signed)
	if w.Code != http.StatusOK {
		t.Fatalf("lowercase bearer: status = %d, want 200", w.Code)
	}
}

func TestAuthMissingToken(t *testing.T) {
	r, _, _ := newAuthFixture(t)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic dXNlcjpwdw=="} {
		w := doAuth(r, "/whoami", header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, w.Code)
		}
		if got := message(t, w); got != "missing token" {
			t.Fatalf("header %q: message = %q, want missing token", header, got)
		}
	}
}

func TestAuthMalformedToken(t *testing.T) {
	r, _, _ := newAuthFixture(t)

	w := doAuth(r, "/whoami", "Bearer not.a.token")
	if w.Code != http.StatusUnauthorized || message(t, w) != "malformed token" {
		t.Fatalf("got %d %q", w.Code, w.Body)
	}
}

func TestAuthRevokedToken(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	ctx := context.Background()

	signed, _, _ := tokens.Mint(ctx, 1, "alice@example.com", user.RoleAdmin)
	if err := tokens.Revoke(ctx, signed); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	w := doAuth(r, "/whoami", "Bearer "+signed)
	if w.Code != http.StatusUnauthorized || message(t, w) != "token revoked" {
		t.Fatalf("got %d %q", w.Code, w.Body)
	}

	// A token minted after the revoke is unaffected.
	fresh, _, _ := tokens.Mint(ctx, 1, "alice@example.com", user.RoleAdmin)
	if w := doAuth(r, "/whoami", "Bearer "+fresh); w.Code != http.StatusOK {
		t.Fatalf("fresh token rejected: %d", w.Code)
	}
}

func TestAuthInactiveAccount(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	signed, _, _ := tokens.Mint(context.Background(), 2, "bob@example.com", user.RoleUser)

	w := doAuth(r, "/whoami", "Bearer "+signed)
	if w.Code != http.StatusUnauthorized || message(t, w) != "account inactive" {
		t.Fatalf("got %d %q", w.Code, w.Body)
	}
}

func TestAuthUnknownSubject(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	signed, _, _ := tokens.Mint(context.Background(), 999, "ghost@example.com", user.RoleUser)

	w := doAuth(r, "/whoami", "Bearer "+signed)
	if w.Code != http.StatusUnauthorized || message(t, w) != "user not found" {
		t.Fatalf("got %d %q", w.Code, w.Body)
	}
}

func TestRequireRole(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	ctx := context.Background()

	admin, _, _ := tokens.Mint(ctx, 1, "alice@example.com", user.RoleAdmin)
	if w := doAuth(r, "/admin", "Bearer "+admin); w.Code != http.StatusOK {
		t.Fatalf("admin rejected: %d", w.Code)
	}
}

func TestIdentityInjected(t *testing.T) {
	r, tokens, _ := newAuthFixture(t)
	signed, _, _ := tokens.Mint(context.Background(), 1, "alice@example.com", user.RoleAdmin)

	w := doAuth(r, "/whoami", "Bearer "+signed)
	var body struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.UserID != 1 || body.Role != user.RoleAdmin {
		t.Fatalf("identity = %+v, want user 1 admin", body)
	}
}

func TestExpiredTokenDistinguished(t *testing.T) {
	// An expired token must say so; the client's correct move is
	// re-login, not a refresh-retry loop.
	r, _, _ := newAuthFixture(t)

	claims := &token.Claims{
		UserID: 1,
		Email:  "alice@example.com",
		Role:   user.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-25 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("middleware-test-secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	w := doAuth(r, "/whoami", "Bearer "+expired)
	if w.Code != http.StatusUnauthorized || message(t, w) != "token expired" {
		t.Fatalf("got %d %q", w.Code, w.Body)
	}
}
