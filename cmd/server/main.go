// Command server runs the aegis HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/strobelt/aegis/internal/api"
	"github.com/strobelt/aegis/internal/cache"
	"github.com/strobelt/aegis/internal/config"
	"github.com/strobelt/aegis/internal/metrics"
	"github.com/strobelt/aegis/internal/ratelimit"
	"github.com/strobelt/aegis/internal/secrets"
	"github.com/strobelt/aegis/internal/storage"
	"github.com/strobelt/aegis/internal/token"
	"github.com/strobelt/aegis/internal/user"
)

func main() {
	configPath := flag.String("config", os.Getenv("AEGIS_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets cascade: Vault when configured, environment otherwise.
	var source secrets.Source
	if cfg.Vault.Addr != "" {
		vault, err := secrets.NewVault(secrets.VaultConfig{
			Addr:    cfg.Vault.Addr,
			Token:   cfg.Vault.Token,
			Mount:   cfg.Vault.Mount,
			Timeout: cfg.Vault.Timeout,
		})
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		source = vault
	}
	resolver := secrets.NewResolver(source, log)
	keys, err := resolver.Resolve(ctx, "security/keys", map[string]secrets.Spec{
		"jwt_secret": {Env: "JWT_SECRET", Required: true},
	})
	if err != nil {
		return fmt.Errorf("resolve signing secret: %w", err)
	}
	cfg.Auth.JWTSecret = keys["jwt_secret"]

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	repo := user.NewRepository(db)

	store := cache.New(ctx, cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		FallbackPath: cfg.Redis.FallbackPath,
	}, log)

	tokens, err := token.NewService([]byte(cfg.Auth.JWTSecret), store)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	deps := api.Deps{
		Config:   cfg,
		Users:    repo,
		Tokens:   tokens,
		Limiter:  ratelimit.NewLimiter(store, log),
		Throttle: ratelimit.NewLoginThrottle(store, log),
		Metrics:  metrics.New(),
		Log:      log,
		Probes: []api.Probe{
			{Name: "postgres", Checker: repo, Required: true},
			{Name: "cache", Checker: cacheProbe{store}},
		},
	}

	if cfg.UploadsEnabled() {
		objects, err := storage.NewS3(ctx, storage.Config{
			Region:         cfg.Upload.Region,
			Bucket:         cfg.Upload.Bucket,
			CDNDomain:      cfg.Upload.CDNDomain,
			DistributionID: cfg.Upload.DistributionID,
		})
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		deps.Objects = objects
		if cfg.Upload.DistributionID != "" {
			cdn, err := storage.NewCDN(ctx, cfg.Upload.Region, cfg.Upload.DistributionID)
			if err != nil {
				return fmt.Errorf("cdn: %w", err)
			}
			deps.CDN = cdn
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// cacheProbe reports cache reachability through a write roundtrip. The
// cache is an optional dependency so the probe never gates readiness.
type cacheProbe struct {
	store cache.Store
}

func (p cacheProbe) Healthy(ctx context.Context) error {
	if ok := p.store.Set(ctx, "healthcheck", "ok", time.Second); !ok {
		return errors.New("cache write failed")
	}
	return nil
}
