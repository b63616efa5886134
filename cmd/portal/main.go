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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/config"
	"feeportal/internal/diagnostics"
	"feeportal/internal/handler"
	"feeportal/internal/httpmiddleware"
	"feeportal/internal/metrics"
	"feeportal/internal/queue"
	"feeportal/internal/receipt"
	"feeportal/internal/store"
	"feeportal/internal/viewer"
	"feeportal/internal/workspace"
)

func main() {
	cfg := config.Load()

	level := slog.LevelDebug
	if cfg.IsProd() {
		level = slog.LevelInfo
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := runHTTP(cfg, logger); err != nil {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var persister auth.Persister = auth.NewMemoryPersister()
	var redisClient *store.Redis
	if cfg.SessionBackend == "redis" {
		var err error
		redisClient, err = store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		persister = auth.NewRedisPersister(redisClient.Client, "")
	}

	var reporter diagnostics.Reporter = diagnostics.LogReporter{Log: logger}
	var db *store.DB
	switch {
	case cfg.DiagnosticsQueue:
		q := queue.NewRedisQueue(redisClient.Client, cfg.DiagnosticsKey, logger)
		reporter = diagnostics.Multi{reporter, diagnostics.QueueReporter{Queue: q, Log: logger}}
		logger.Info("contract violations queued for the worker", "key", cfg.DiagnosticsKey)
	case cfg.DatabaseURL != "":
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("diagnostics db not reachable, logging contract violations only", "error", err)
			break
		}
		defer db.Close()
		reporter = diagnostics.Multi{reporter, diagnostics.PostgresReporter{DB: db.Client, Log: logger}}
	}

	spaces := workspace.NewRegistry(workspace.Deps{
		API:          apiclient.New(cfg.APIBaseURL),
		Persister:    persister,
		Blobs:        receipt.NewRegistry("/blobs", m, logger),
		Reporter:     reporter,
		Metrics:      m,
		Logger:       logger,
		SessionTTL:   cfg.SessionTTL,
		FilterWindow: cfg.FilterDebounce,
		PageSize:     cfg.PageSize,
		Viewer: viewer.Config{
			MaxWidth:       cfg.ViewerMaxWidth,
			WidthFraction:  cfg.ViewerFraction,
			ResizeDebounce: cfg.ViewerResize,
		},
	})
	defer spaces.Close()
	go spaces.RunSweeper(ctx, time.Minute, cfg.WorkspaceIdleTTL)

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	signIns := httpmiddleware.NewTokenBucket(10, 10)
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.Prune(time.Hour)
				signIns.Prune(time.Hour)
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := cfg.SessionBackend != "redis" || redisClient.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "workspaces": spaces.Len()})
	})

	handler.New(spaces, handler.Options{
		SessionTTL:   cfg.SessionTTL,
		SecureCookie: cfg.IsProd(),
		FileLimit:    limiter.Middleware(httpmiddleware.ByCookie(handler.CookieName)),
		SignInLimit:  signIns.Middleware(httpmiddleware.ByClientIP),
		Logger:       logger,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting portal", "addr", srv.Addr, "api", cfg.APIBaseURL, "sessions", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down portal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "error", err)
	}
	logger.Info("portal exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
