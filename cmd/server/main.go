package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/api"
	"github.com/wuwenbin0122/chatrelay/internal/auth"
	"github.com/wuwenbin0122/chatrelay/internal/metrics"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to initialise: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := buildDependencies(ctx, cfg, metrics.New(registry), logger)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer deps.Close()

	authService, err := auth.NewServiceWithDirectory(cfg.JWTSecret, 24*time.Hour, deps.Users)
	if err != nil {
		logger.Fatal("failed to initialise auth service", zap.Error(err))
	}

	handler := api.NewHandler(authService, deps.Relay, deps.Repository, api.Options{
		AuthDevBypass: cfg.AuthDevBypass,
		Logger:        logger,
	})
	router := setupRouter(handler, registry, deps.Health)

	// WriteTimeout stays zero: chat streams outlive any fixed write deadline.
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("transcript_backend", cfg.TranscriptBackend),
			zap.String("moderation_mode", cfg.Moderation.Mode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

func setupRouter(handler *api.Handler, gatherer prometheus.Gatherer, health func(context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["error"] = err.Error()
			}
		}
		c.JSON(status, body)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))

	handler.RegisterRoutes(router)

	return router
}
