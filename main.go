package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"idcore/internal/config"
	"idcore/internal/container"
	"idcore/internal/handler"
	"idcore/internal/middleware"
	"idcore/pkg/logger"
)

// Resources holds all resources that need cleanup
type Resources struct {
	container *container.Container
	server    *http.Server
	log       *logger.Logger
	mu        sync.Mutex
	closed    bool
}

// Cleanup gracefully closes all resources
func (r *Resources) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error

	r.log.Info("Starting graceful shutdown...")

	// Shutdown HTTP server first to stop accepting new requests
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			r.log.WithError(err).Error("Failed to shutdown HTTP server")
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		} else {
			r.log.Info("HTTP server shutdown complete")
		}
	}

	// Stop the purge sweeper so no purge runs mid-flight during close
	if r.container != nil && r.container.Sweeper != nil {
		if err := r.container.Sweeper.Stop(); err != nil {
			r.log.WithError(err).Error("Failed to stop purge sweeper")
			errs = append(errs, fmt.Errorf("purge sweeper shutdown: %w", err))
		}
	}

	// Close Redis and the database pool
	if r.container != nil {
		r.container.Close()
	}

	if len(errs) > 0 {
		r.log.WithField("error_count", len(errs)).Error("Cleanup completed with errors")
		return fmt.Errorf("cleanup completed with %d errors: %v", len(errs), errs)
	}

	r.log.Info("Graceful shutdown completed successfully")
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":        cfg.Port,
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
	}).Info("Starting identity core server")

	// Create dependency injection container
	ctx := context.Background()
	c, err := container.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create container")
	}

	// Start the background purge sweeper
	if err := c.Sweeper.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start purge sweeper")
	}

	// Setup router
	router := setupRouter(c)

	// Create HTTP server
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Create resources manager for cleanup
	resources := &Resources{
		container: c,
		server:    server,
		log:       log,
	}

	// Setup graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := resources.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Error("Cleanup completed with errors")
		}
	}()

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Server starting on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Server error occurred")
			serverErrChan <- err
		}
	}()

	// Wait for interrupt signal or server error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-serverErrChan:
		log.WithError(err).Error("Server failed, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := resources.Cleanup(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown completed with errors")
		os.Exit(1)
	}

	log.Info("Application shutdown complete")
}

// setupRouter configures and returns the HTTP router
func setupRouter(c *container.Container) *chi.Mux {
	cfg := c.GetConfig()
	log := c.GetLogger()
	zlog := log.Logger

	r := chi.NewRouter()

	corsConfig := &middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           86400,
	}

	r.Use(middleware.CORS(corsConfig, zlog))
	r.Use(middleware.RequestID())
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Compress(5))
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Create handlers
	healthHandler := handler.NewHealthHandler(c.DB, c.RedisClient, zlog)
	authHandler := handler.NewAuthHandler(c.OAuth, c.Tokens, zlog)
	userHandler := handler.NewUserHandler(c.Users, c.Tokens, zlog)
	gdprHandler := handler.NewGDPRHandler(c.GDPR, zlog)

	// Health check (no auth required)
	r.Get("/health", healthHandler.Check)

	// OAuth flow and token lifecycle (no auth required)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/verify", authHandler.Verify)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.Post("/{provider}", authHandler.Initiate)
		r.Get("/{provider}/callback", authHandler.Callback)
	})

	// User-facing routes, restricted to the authenticated subject
	r.Route("/users/{id}", func(r chi.Router) {
		r.Use(middleware.Auth(c.Tokens, c.Recorder, zlog))
		r.Use(middleware.RequireSubject(zlog))

		r.Get("/", userHandler.GetProfile)
		r.Put("/", userHandler.UpdateProfile)
		r.Get("/privacy", userHandler.GetPrivacy)
		r.Put("/privacy", userHandler.UpdatePrivacy)
		r.Post("/verify/request", userHandler.RequestVerification)
		r.Post("/verify", userHandler.ConfirmVerification)
		r.Post("/deactivate", userHandler.Deactivate)
		r.Get("/sessions", userHandler.ListSessions)
		r.Delete("/sessions/{sessionID}", userHandler.RevokeSession)

		r.Get("/export", gdprHandler.Export)
		r.Post("/erase", gdprHandler.Erase)
		r.Post("/reactivate", gdprHandler.Reactivate)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":{"type":"not_found","message":"Endpoint not found"}}`))
	})

	log.Info("Router configured successfully")
	return r
}
