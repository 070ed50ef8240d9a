package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/usermodel/internal/config"
	"github.com/usermodel/internal/database"
	"github.com/usermodel/internal/events"
	"github.com/usermodel/internal/handler"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/middleware"
	"github.com/usermodel/internal/models"
	"github.com/usermodel/internal/observability"
	"github.com/usermodel/internal/repository"
	"github.com/usermodel/internal/service"
	"github.com/usermodel/pkg/crypto"
	"github.com/usermodel/pkg/keygen"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	os.Exit(runMain(*configPath))
}

// runMain returns the process exit code so deferred cleanup runs before exiting
func runMain(configPath string) int {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	appLog, err := logger.New(cfg.Log.Mode, cfg.Log.Dir)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer appLog.Sync()

	if err := run(cfg, appLog); err != nil {
		appLog.Error("server exited with error", "error", err)
		return 1
	}
	appLog.Info("Server exited properly")
	return 0
}

func run(cfg *config.Config, appLog *logger.Logger) error {
	gin.SetMode(cfg.Server.Mode)
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, Version, appLog)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			appLog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Initialize database
	db, err := database.Open(cfg.Database, cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			appLog.Warn("error closing database", "error", err)
		}
	}()

	// Auto migrate database
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if cfg.Seed.Enabled {
		if err := database.SeedRoles(ctx, db, appLog); err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
	}

	if cfg.JWT.Secret == "" {
		if cfg.Server.Mode == gin.ReleaseMode {
			return errors.New("jwt secret must be configured in release mode")
		}
		secret, err := keygen.SigningSecret(32)
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWT.Secret = secret
		appLog.Warn("no JWT secret configured; generated an ephemeral one, tokens will not survive a restart")
	}

	// Change events go through redis when enabled
	var (
		publisher  events.Publisher = events.NopPublisher{}
		subscriber events.Subscriber
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				appLog.Warn("error closing redis connection", "error", err)
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLog.Warn("redis unreachable, events will be dropped until it recovers", "addr", cfg.Redis.Addr(), "error", err)
		}
		bus := events.NewRedisBus(rdb, cfg.Redis.Channel)
		publisher, subscriber = bus, bus
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	emailRepo := repository.NewUseremailRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	linkRepo := repository.NewUserRoleRepository(db)

	// Initialize services
	hasher := crypto.BcryptHasher{}
	userService := service.NewUserService(db, userRepo, emailRepo, roleRepo, linkRepo, hasher, publisher, appLog)
	roleService := service.NewRoleService(roleRepo, appLog)
	authService := service.NewAuthService(userRepo, hasher, cfg.JWT)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, handler.BuildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime})
	authHandler := handler.NewAuthHandler(authService, appLog)
	userHandler := handler.NewUserHandler(userService, subscriber, appLog)
	roleHandler := handler.NewRoleHandler(roleService, appLog)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(appLog))
	router.Use(middleware.CORS(cfg.Server.AllowOrigins))

	healthHandler.RegisterRoutes(router)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		authMiddleware := middleware.AuthMiddleware(authService)

		// Auth routes (public)
		authHandler.RegisterRoutes(v1)

		// User routes (reads public, writes protected)
		userHandler.RegisterRoutes(v1, authMiddleware)

		// Role routes (writes need ADMIN)
		roleHandler.RegisterRoutes(v1, authMiddleware, middleware.RequireRole(models.RoleAdmin))
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("Starting server", "addr", addr, "version", Version, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-quit:
	}

	appLog.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
