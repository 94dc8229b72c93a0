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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/platformid/simple-auth/pkg/auth"
	authapi "github.com/platformid/simple-auth/pkg/auth/api"
	"github.com/platformid/simple-auth/pkg/config"
	"github.com/platformid/simple-auth/pkg/notice"
	"github.com/platformid/simple-auth/pkg/notification"
	"github.com/platformid/simple-auth/pkg/otp"
	"github.com/platformid/simple-auth/pkg/ratelimit"
	tg "github.com/platformid/simple-auth/pkg/tokengenerator"
	"github.com/platformid/simple-auth/pkg/user"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo, cleanup, err := newUserRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize user repository", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	notifier, err := newNotificationManager(cfg.Email)
	if err != nil {
		slog.Error("Failed to initialize notification manager", "err", err)
		os.Exit(1)
	}

	otpService := otp.NewService(otp.NewInMemoryOTPRepository(),
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithSweepInterval(cfg.OTP.SweepInterval),
	)
	otpService.StartSweeper(ctx)

	tokenService := tg.NewTokenService(
		tg.NewJwtTokenGenerator(cfg.JWT.AccessSecret, cfg.JWT.Issuer, cfg.JWT.Audience),
		tg.NewJwtTokenGenerator(cfg.JWT.RefreshSecret, cfg.JWT.Issuer, cfg.JWT.Audience),
		tg.WithAccessTokenExpiry(cfg.JWT.AccessTokenExpiry),
		tg.WithRefreshTokenExpiry(cfg.JWT.RefreshTokenExpiry),
	)
	cookieSetter := tg.NewCookieSetter(cfg.JWT.CookieHttpOnly, cfg.JWT.CookieSecure)

	authService := auth.NewAuthService(userRepo, otpService, tokenService, notifier)
	handle := authapi.NewHandle(authService, tokenService, cookieSetter)

	rateLimitCfg := ratelimit.DefaultConfig()
	// Credential-guessing surfaces get tighter per-IP limits
	for _, path := range []string{"/api/auth/login", "/api/auth/verify-otp", "/api/auth/verify-register-otp", "/api/auth/forgot-password"} {
		rateLimitCfg.EndpointLimits["POST "+path] = ratelimit.EndpointLimit{Capacity: 10, RefillRate: 10.0 / 60.0}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.NewMiddleware(rateLimitCfg).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/auth", handle.Routes)

	server := &http.Server{
		Addr:    cfg.App.Addr(),
		Handler: r,
	}

	go func() {
		slog.Info("Auth server listening", "addr", cfg.App.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "err", err)
	}
}

func newUserRepository(ctx context.Context, cfg config.Config) (user.UserRepository, func(), error) {
	if cfg.App.InMemory {
		slog.Warn("Using in-memory user repository, data will not survive restarts")
		return user.NewInMemoryUserRepository(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.ToDatabaseURL())
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return user.NewPostgresUserRepository(pool), pool.Close, nil
}

func newNotificationManager(emailCfg config.EmailConfig) (*notification.NotificationManager, error) {
	if emailCfg.Configured() {
		return notice.NewNotificationManager(emailCfg.ToSMTPConfig())
	}

	slog.Warn("SMTP not configured, notifications will be logged instead of delivered")
	nm, _, err := notice.NewMockNotificationManager()
	return nm, err
}
