package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/auth"
	"github.com/fidelis-church/fidelis-backend/internal/config"
	"github.com/fidelis-church/fidelis-backend/internal/db"
	"github.com/fidelis-church/fidelis-backend/internal/events"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/logging"
	"github.com/fidelis-church/fidelis-backend/internal/middleware"
	"github.com/fidelis-church/fidelis-backend/internal/migrations"
	"github.com/fidelis-church/fidelis-backend/internal/token"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
	"github.com/fidelis-church/fidelis-backend/internal/webhooks"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{MaxOpenConns: cfg.DBMaxOpenConns}, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	if cfg.AutoMigrate {
		applied, err := migrations.NewRunner(gdb, migrations.Default(), log).Apply(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations up to date", zap.Strings("applied", applied))
	}

	tokens := token.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.TokenTTL}
	authn := middleware.SessionMiddleware(tokens, auth.SessionInfo{DB: gdb})
	loginLimit := middleware.NewRateLimiter("login", cfg.PublicRatePerMinute, cfg.PublicRateBurst)
	publicLimit := middleware.NewRateLimiter("public", cfg.PublicRatePerMinute, cfg.PublicRateBurst)

	svc := visitors.NewService(visitors.NewGormStore(gdb), fidelity.NewAggregator(cfg.Fidelity), log)
	visitorHandler := visitors.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/auth", auth.SetupRoutes(auth.NewHandler(gdb, tokens, log), authn, loginLimit.Middleware))
	r.Mount("/visitors", visitors.SetupRoutes(visitorHandler, authn))
	r.Mount("/analytics", visitors.SetupAnalyticsRoutes(visitorHandler, authn))
	r.Mount("/public", visitors.SetupPublicRoutes(visitorHandler, publicLimit.Middleware))
	r.Mount("/events", events.SetupRoutes(events.NewHandler(gdb, log), authn, publicLimit.Middleware))
	r.Mount("/webhooks", webhooks.SetupRoutes(webhooks.NewHandler(cfg.WebhookSecret, svc, webhooks.GormInbox{DB: gdb}, log)))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
