package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-auth/internal/config"
	"storefront-auth/internal/database"
	"storefront-auth/internal/event"
	"storefront-auth/internal/handler"
	"storefront-auth/internal/metrics"
	"storefront-auth/internal/middleware"
	"storefront-auth/internal/observability"
	"storefront-auth/internal/repository"
	"storefront-auth/internal/router"
	"storefront-auth/internal/service"
	"storefront-auth/internal/session"
	"storefront-auth/internal/token"
)

type App struct {
	server          *http.Server
	shutdownTimeout time.Duration
	cleanupFuncs    []func()
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	a := &App{shutdownTimeout: cfg.ShutdownTimeout}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, ""); err != nil {
		slog.Warn("sentry disabled", "error", err)
	} else if cfg.SentryDSN != "" {
		a.cleanupFuncs = append(a.cleanupFuncs, observability.FlushSentry)
	}

	codec, err := token.NewCodec(cfg.JWTSecret, token.WithIssuer(cfg.JWTIssuer), token.WithLeeway(cfg.JWTLeeway))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	pingers := map[string]handler.Pinger{}

	var users service.IdentityRepository
	var audit service.AuditStore
	if cfg.DatabaseURL != "" {
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, database.Options{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		users = repository.NewUserRepository(db.Pool)
		audit = repository.NewAuditRepository(db.Pool)
		pingers["database"] = db
		slog.Info("database ready")
	} else {
		slog.Warn("DATABASE_URL not set, identities are kept in memory")
		users = repository.NewMemoryUserRepository()
		audit = repository.NewMemoryAuditRepository()
	}

	var sessions session.Backend
	if cfg.RedisURL != "" {
		redisStore, err := session.OpenRedis(ctx, cfg.RedisURL, cfg.SessionKeyPrefix)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sessions = redisStore
		slog.Info("session store ready", "backend", "redis")
	} else {
		slog.Warn("REDIS_URL not set, sessions are kept in memory (single instance only)")
		sessions = session.NewMemoryStore()
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		if err := sessions.Close(); err != nil {
			slog.Error("failed to close session store", "error", err)
		}
	})
	pingers["sessions"] = sessions

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()
	go logEvents(events)
	a.cleanupFuncs = append(a.cleanupFuncs, unsubscribe)

	auditService := service.NewAuditService(audit)
	// registered after the database, so buffered events are written before the pool closes
	a.cleanupFuncs = append(a.cleanupFuncs, startAuditRecorder(bus, auditService))

	m := metrics.New()

	authService, err := service.NewAuthService(users, sessions, codec, service.LogMailer{}, bus, m, service.AuthConfig{
		AccessTTL:          cfg.JWTAccessTTL,
		RefreshTTL:         cfg.JWTRefreshTTL,
		ResetTTL:           cfg.JWTResetTTL,
		VerifyTTL:          cfg.JWTVerifyTTL,
		ResetAttemptWindow: cfg.ResetAttemptWindow,
		BcryptCost:         cfg.BcryptCost,
		BaseURL:            cfg.AppBaseURL,
		AdminEmails:        cfg.AdminEmails,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	// drain background reset deliveries before the stores close
	a.cleanupFuncs = append(a.cleanupFuncs, authService.Close)

	cookies := handler.NewCookieJar(handler.CookieConfig{
		Secure:   cfg.CookieSecure,
		SameSite: handler.ParseSameSite(cfg.CookieSameSite),
		Domain:   cfg.CookieDomain,
	})
	authMiddleware := middleware.NewAuthMiddleware(authService, handler.AccessCookieName)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:   handler.NewAuthHandler(authService, cookies),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(pingers),
	}, m)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// cleanup runs in reverse registration order so dependents close first.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

func logEvents(events <-chan event.Event) {
	for e := range events {
		slog.Info("session event", "type", e.Type, "subject_id", e.SubjectID, "admin", e.Admin, "reason", e.Reason)
	}
}

// startAuditRecorder feeds bus events into the audit trail. The returned stop
// function unsubscribes and waits until every buffered event is recorded.
func startAuditRecorder(bus event.Bus, audit *service.AuditService) func() {
	events, unsubscribe := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		audit.Run(events)
	}()

	return func() {
		unsubscribe()
		<-done
	}
}
