package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qafala_backend/internal/app"
	"qafala_backend/internal/config"
	httpServer "qafala_backend/internal/http"
	"qafala_backend/internal/http/middleware"
	"qafala_backend/internal/jobs"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/service"
	"qafala_backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	if err := service.InitJWT(cfg.JWTSecret); err != nil {
		logger.Fatal("jwt init failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, pool, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed", "error", err)
	}
	defer pool.Close()

	hub := ws.NewHub()
	defer hub.Close()
	svc.Purchases.SetNotifier(hub)

	scheduler, err := jobs.NewScheduler(cfg.FinalizeCron, cfg.Location(), svc.Leaderboard, svc.Idempotency)
	if err != nil {
		logger.Fatal("invalid FINALIZE_CRON", "error", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", "error", err)
	}
	defer scheduler.Stop()

	middleware.InitRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer middleware.CloseRateLimiter()

	r := gin.Default()
	r.Use(middleware.CORS(cfg.AllowedOrigin))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer.RegisterRoutes(r, cfg, httpServer.Deps{
		Handler: svc.Handler(),
		Health:  svc.Store,
		Hub:     hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
