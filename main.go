package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/audit"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/config"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/database"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/events"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/handlers"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/logging"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/middleware"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/retry"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Host),
		zap.Bool("sharing", cfg.Sharing.Secret != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := database.Open(ctx, &database.Config{
		URL:              cfg.Database.ConnectionString(),
		MaxConnections:   cfg.Database.MaxConnections,
		StatementTimeout: cfg.Database.StatementTimeout(),
	}, retry.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	} else {
		logger.Info("Redis not configured, caching query results in memory only")
	}

	clk := clock.New()

	// Repositories
	dashboardRepo := repositories.NewDashboardRepository(db)
	queryResultRepo := repositories.NewQueryResultRepository(db)
	eventRepo := repositories.NewEventRepository(db)

	// Services
	bus := events.NewBus(logger)
	recorder := events.NewRecorder(eventRepo, logger)
	defer recorder.Wait()

	resultService := services.NewQueryResultService(queryResultRepo, redisClient, cfg.Redis.ResultTTL(), clk, logger)
	shareService := services.NewShareService(dashboardRepo, cfg.Sharing.Secret, cfg.Sharing.PublicBaseURL, logger)
	listService := services.NewDashboardListService(dashboardRepo, bus, cfg.Dashboard.PageSize, clk, logger)
	defer listService.Close()

	sessionCfg := services.SessionConfig{
		ReloadWindow:           cfg.Dashboard.ReloadThrottle(),
		RefreshRates:           cfg.Dashboard.RefreshRates,
		ShowPermissionsControl: cfg.Dashboard.ShowPermissionsControl,
		Clock:                  clk,
	}
	if cfg.Dashboard.ReloadBackoff {
		sessionCfg.ReloadBackoff = retry.ReloadConfig(cfg.Dashboard.ReloadThrottle())
	}
	sessionManager := services.NewSessionManager(ctx, services.SessionDeps{
		Dashboards: dashboardRepo,
		Results:    resultService,
		Sharing:    shareService,
		Bus:        bus,
		Recorder:   recorder,
	}, sessionCfg, cfg.Dashboard.SessionIdleTTL(), logger)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		sessionManager.Run(ctx)
	}()

	if cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, client cookies will not survive a restart")
	}
	cookieStore := sessions.NewCookieStore(cookieKey(cfg.SessionSecret))

	// Handlers
	auditor := audit.NewSecurityAuditor(logger, clk)
	mux := http.NewServeMux()
	scope := database.WithScope(db, logger)

	healthHandler := handlers.NewHealthHandler(cfg, logger, healthChecks(db, redisClient)...)
	healthHandler.RegisterRoutes(mux)

	dashboardsHandler := handlers.NewDashboardsHandler(listService, shareService, bus, clk, auditor, logger)
	dashboardsHandler.RegisterRoutes(mux, scope)

	sessionHandler := handlers.NewDashboardSessionHandler(sessionManager, cookieStore, auditor, logger)
	sessionHandler.RegisterRoutes(mux, scope)

	// Serve static UI files from ui/dist
	mux.Handle("/", http.FileServer(http.Dir("./ui/dist")))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-dashboards",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down server cleanly", zap.Error(err))
	}

	// stops the session manager when the listener failed first
	cancel()
	<-managerDone

	return nil
}

// cookieKey returns the cookie signing key, a random one when none is configured.
func cookieKey(secret string) []byte {
	if secret != "" {
		return []byte(secret)
	}
	return securecookie.GenerateRandomKey(32)
}

func healthChecks(db *database.DB, redisClient *redis.Client) []handlers.HealthCheck {
	checks := []handlers.HealthCheck{
		{Name: "database", Check: db.Ping},
	}
	if redisClient != nil {
		checks = append(checks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}
