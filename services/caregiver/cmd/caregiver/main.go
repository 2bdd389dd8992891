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

	"github.com/joho/godotenv"

	"remora/internal/ratelimit"
	"remora/internal/util"
	"remora/pkg/realtime"
	"remora/services/caregiver/internal/app"
	"remora/services/caregiver/internal/config"
	"remora/services/caregiver/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	storeTimeout, err := config.ParseStoreTimeout(cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("failed to parse store timeout: %v", err)
	}
	trustedProxies, err := util.ParseTrustedProxies(cfg.TrustedProxiesCSV())
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "caregiver")
	hub := realtime.NewHub()

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		DatabaseDriver:    cfg.DatabaseDriver,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		JWTSecret:         cfg.JWTSecret,
		JWTIssuer:         cfg.JWTIssuer,
		JWTAudience:       cfg.JWTAudience,
		JWTLeeway:         jwtLeeway,
		SessionTTL:        sessionTTL,
		StoreTimeout:      storeTimeout,
		NotifyConcurrency: cfg.NotifyConcurrency,
		Publisher:         hub,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.DeviceRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "remora:caregiver:ratelimit:device", cfg.DeviceRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init device rate limiter: %v", err)
		}
	}

	serverCfg := server.Config{
		App:            appCore,
		Hub:            hub,
		TrustedProxies: trustedProxies,
		ClientOrigins:  cfg.ClientOrigins,
	}
	if limiter != nil {
		serverCfg.DeviceLimiter = limiter
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("caregiver server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := appCore.Close(shutdownCtx); err != nil {
		logger.Error("app shutdown failed", "err", err)
	}
	if limiter != nil {
		if err := limiter.Close(); err != nil {
			logger.Warn("rate limiter close failed", "err", err)
		}
	}
}
