package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/config"
	"github.com/strobelt/aegis/internal/metrics"
	"github.com/strobelt/aegis/internal/middleware"
	"github.com/strobelt/aegis/internal/ratelimit"
	"github.com/strobelt/aegis/internal/user"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config   *config.Config
	Users    UserStore
	Tokens   TokenService
	Limiter  *ratelimit.Limiter
	Throttle *ratelimit.LoginThrottle
	Objects  ObjectStore // nil disables the files surface
	CDN      Invalidator
	Metrics  *metrics.Metrics
	Probes   []Probe
	Log      *slog.Logger
}

// NewRouter assembles the middleware pipeline and routes. Stage order
// is fixed: CORS first (preflights terminate there), then the request
// limiter, then per-group auth.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument())
	}
	r.Use(corsMiddleware(d.Config.CORS))
	r.Use(middleware.RateLimit(d.Limiter, "rate_limit", d.Config.RateLimit.Limit,
		"/healthz", "/readyz", "/metrics"))

	r.GET("/healthz", Healthz())
	r.GET("/readyz", Readyz(d.Probes...))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	auth := NewAuthHandler(d.Users, d.Tokens, d.Throttle, d.Metrics, d.Log)
	usersH := NewUserHandler(d.Users, d.Log)

	v1 := r.Group("/api/v1")

	// The login route carries its own, stricter window budget on top of
	// the global one.
	v1.POST("/auth/login",
		middleware.RateLimit(d.Limiter, "rate_limit:login", d.Config.RateLimit.LoginLimit),
		auth.Login)
	v1.POST("/auth/register", auth.Register)

	// Logout stays outside the auth group: a revoked or expired token
	// must still log out with a 200.
	v1.POST("/auth/logout", auth.Logout)

	protected := v1.Group("", middleware.RequireAuth(d.Tokens, userDirectory{d.Users}))
	protected.POST("/auth/refresh", auth.Refresh)
	protected.GET("/me", auth.Me)

	protected.GET("/users", middleware.RequireRole(user.RoleAdmin, user.RoleModerator), usersH.List)
	protected.GET("/users/:id", usersH.Get)
	protected.PATCH("/users/:id", usersH.Update)
	protected.DELETE("/users/:id", middleware.RequireRole(user.RoleAdmin), usersH.Delete)

	if d.Objects != nil {
		files := NewFileHandler(d.Objects, d.CDN, d.Users, d.Config.Upload.MaxBytes, d.Log)
		protected.POST("/files", files.Upload)
		protected.DELETE("/files", middleware.RequireRole(user.RoleAdmin), files.Delete)
	}

	return r
}

// corsMiddleware maps the static origin configuration onto the CORS
// stage: a lone "*" answers wildcard without credentials, otherwise the
// matching origin is echoed.
func corsMiddleware(c config.CORS) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}
	if len(c.Origins) == 1 && c.Origins[0] == "*" {
		conf.AllowAllOrigins = true
		conf.AllowCredentials = false
	} else {
		conf.AllowOrigins = c.Origins
	}
	return cors.New(conf)
}

// userDirectory adapts the handler-facing UserStore to the middleware's
// narrower lookup interface.
type userDirectory struct {
	store UserStore
}

func (d userDirectory) ByID(ctx context.Context, id int64) (*user.User, error) {
	return d.store.ByID(ctx, id)
}
