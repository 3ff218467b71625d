package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gogithub "github.com/google/go-github/v75/github"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tilsley/repolens/apps/server/internal/explorer"
	gh "github.com/tilsley/repolens/apps/server/internal/explorer/adapters/github"
	"github.com/tilsley/repolens/apps/server/internal/explorer/cache"
	"github.com/tilsley/repolens/apps/server/internal/explorer/handler"
	"github.com/tilsley/repolens/apps/server/internal/platform/config"
	platformgithub "github.com/tilsley/repolens/apps/server/internal/platform/github"
	"github.com/tilsley/repolens/apps/server/internal/platform/telemetry"
	"github.com/tilsley/repolens/apps/server/internal/platform/validation"
	"github.com/tilsley/repolens/pkg/logging"
	"github.com/tilsley/repolens/schemas"
)

func main() {
	slog := logging.New(telemetry.DefaultServiceName)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = telemetry.DefaultServiceName
	}
	tel, err := telemetry.New(ctx, telemetry.Options{Enabled: cfg.OTel.Enabled, ServiceName: serviceName})
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Platform: GitHub ---

	var fallback *gogithub.Client
	switch {
	case cfg.GitHub.App.Enabled():
		app := cfg.GitHub.App
		fallback, err = platformgithub.NewAppClient(app.ID, app.InstallationID, app.PrivateKeyPath, cfg.GitHub.APIURL)
		if err != nil {
			slog.Error("github app client init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("anonymous requests use github app installation", "appID", app.ID)
	case cfg.GitHub.Token != "":
		fallback = platformgithub.NewTokenClient(cfg.GitHub.Token, cfg.GitHub.APIURL)
		slog.Info("anonymous requests use GITHUB_TOKEN")
	}

	tracker := explorer.NewTracker(slog)
	provider := gh.NewProvider(gh.Config{
		BaseURL:    cfg.GitHub.APIURL,
		Timeout:    cfg.GitHub.RequestTimeout,
		Classifier: gh.ClassifierOptions{TimeoutsAsRateLimit: cfg.GitHub.TimeoutsAsRateLimit},
		AppClient:  fallback,
	}, tracker, slog)

	// --- Platform: Redis (listing cache) ---

	var listings explorer.ListingCache = explorer.NopListingCache{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, listing cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			listings = cache.NewRedisListingCache(rdb, cfg.Redis.ListingTTL)
			slog.Info("listing cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.ListingTTL)
		}
	}

	// --- Service + HTTP ---

	svc := explorer.NewService(provider, listings, tracker, slog)
	defer svc.Close()
	go svc.PollBudgets(ctx, cfg.RateLimit.PollInterval)

	validator, err := validation.New(schemas.OpenAPISpec, validation.WithLogger(slog))
	if err != nil {
		slog.Error("openapi validation middleware init failed", "error", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), validator)
	handler.RegisterRoutes(router, svc, slog)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}()

	slog.Info("starting repolens", "port", cfg.Port, "githubAPI", cfg.GitHub.APIURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1) //nolint:gocritic // deferred cleanup is best-effort
	}
}
