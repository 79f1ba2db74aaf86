package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cvfolio/reqaudit/internal/config"
	"github.com/cvfolio/reqaudit/internal/handler"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/cvfolio/reqaudit/internal/repository"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(gin.ReleaseMode)

	// 2. Initialize Persistence (Postgres > Memory)
	var store service.RequestLogStore
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			pgStore, err := repository.NewPostgresRequestLogStore(db)
			if err != nil {
				log.Fatalf("Failed to migrate request_logs: %v", err)
			}
			logger.Info("Connected to PostgreSQL")
			store = pgStore
		} else {
			logger.Error("Failed to connect to DB, request logs are kept in memory", "error", err)
		}
	}
	if store == nil {
		store = repository.NewMemoryRequestLogStore()
	}

	var cache handler.ResponseCache
	if cfg.Redis.Addr != "" {
		rdb, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			cache = repository.NewRedisResponseCache(rdb, cfg.Redis.KeyPrefix)
		} else {
			logger.Error("Failed to connect to Redis, report responses are not cached", "error", err)
		}
	}

	var archiver service.Archiver
	if cfg.Archive.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		archive, err := repository.NewMinioArchive(ctx, cfg.Archive)
		cancel()
		if err == nil {
			logger.Info("Archiving purged request logs", "bucket", cfg.Archive.Bucket)
			archiver = archive
		} else {
			logger.Error("Failed to initialize archive, purged records will not be archived", "error", err)
		}
	}

	// 3. Initialize Core Services
	hub := service.NewStreamHub(64)
	auditSvc := service.NewAuditService(cfg.Audit, store)
	auditSvc.SetListener(hub)

	tokens := service.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	if !tokens.Enabled() {
		logger.Warn("auth.jwt_secret is empty; every caller is anonymous and the reporting API is closed")
	}

	querySvc := service.NewQueryService(store, service.NewAggregator(store, service.DefaultTopLimit))
	retentionSvc := service.NewRetentionService(store, archiver)

	auditHandler := handler.NewAuditHandler(querySvc, retentionSvc, hub)
	if cache != nil {
		auditHandler.WithCache(cache,
			time.Duration(cfg.Redis.LogsTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.StatsTTLSeconds)*time.Second)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	// 4. Setup Router
	r := handler.NewRouter(handler.RouterDeps{
		Audit:       auditSvc,
		Tokens:      tokens,
		Limiter:     service.NewActorLimiter(cfg.Auth.RateLimitQPS, cfg.Auth.RateLimitBurst),
		Handler:     auditHandler,
		CORSOrigins: cfg.Server.CORSOrigins,
		ReadOnly:    cfg.Audit.ReadOnly,
		MetricsPath: metricsPath,
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	go retentionSvc.Run(bgCtx, cfg.Database.RetentionDays, time.Duration(cfg.Database.CleanupIntervalMinutes)*time.Minute)

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("reqaudit started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopBackground()
	hub.Close()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	auditSvc.Close()

	logger.Info("Server exiting")
}
