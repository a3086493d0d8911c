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

	"voicegate/internal/auth"
	"voicegate/internal/campaign"
	"voicegate/internal/config"
	"voicegate/internal/media"
	"voicegate/internal/org"
	"voicegate/internal/quota"
	"voicegate/internal/run"
	"voicegate/internal/telephony"
	"voicegate/pkg/logger"
	"voicegate/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	orgs := org.NewPostgresRepo(db)
	runs := run.NewPostgresRepo(db)

	registry := telephony.NewRegistry(orgs, cfg.Telephony.PublicHost, log)
	validator := telephony.NewInboundValidator(orgs, registry, cfg.Telephony.PublicHost, log)
	processor := telephony.NewStatusProcessor(runs, campaign.NewRedisSlots(rdb), campaign.NewRedisPublisher(rdb), log)

	var quotaChecker quota.Checker = quota.AllowAll{}
	if cfg.Telephony.QuotaCallMinutes > 0 {
		quotaChecker = quota.NewRedisChecker(rdb, cfg.Telephony.QuotaCallMinutes)
	}

	initiator := telephony.NewInitiator(registry, runs, orgs, quotaChecker, cfg.Telephony.PublicHost, log)

	// Media frames are drained until a conversation engine is attached.
	gateway := telephony.NewMediaGateway(runs, orgs, registry, &media.Noop{Log: log}, log)

	handlers := telephony.NewHandlers(
		registry, validator, initiator, processor, gateway,
		runs, orgs, quotaChecker, cfg.Telephony.PublicHost, log,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
