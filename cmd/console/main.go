package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/console/handler"
	"github.com/eudresfs/pgben-approval-engine/internal/console/server"
	"github.com/eudresfs/pgben-approval-engine/internal/console/service"
	"github.com/eudresfs/pgben-approval-engine/internal/events"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"
	infrauth "github.com/eudresfs/pgben-approval-engine/internal/infra/auth"
	"github.com/eudresfs/pgben-approval-engine/internal/repository/postgres"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.New(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to init postgres pool", zap.Error(err))
	}
	defer repo.Close()

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	trail := audit.NewTrail(repo, cfg.Engine.AuditBufferSize, logger)
	trail.Start()

	bus := events.NewBus(rdb, logger)

	// 3. Ключи RS256: консоль и подписывает (private), и проверяет (public)
	privKey, err := infrauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse auth private key", zap.Error(err))
	}
	pubKey, err := infrauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(repo, privKey, pubKey, cfg.Auth.TokenTTL)
	configService := service.NewConfigService(repo, bus, trail)

	resolver := approval.NewResolver(repo, repo, logger)
	approvalService := approval.NewService(repo, repo, resolver, repo, bus, bus, trail, logger)

	authHandler := handler.NewAuthHandler(authService)
	requestHandler := handler.NewRequestHandler(approvalService)
	configHandler := handler.NewConfigHandler(configService)
	dashHandler := handler.NewDashboardHandler(repo)

	consoleSrv := server.NewConsoleServer(cfg, logger, authService,
		authHandler, requestHandler, configHandler, dashHandler)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         ":8000",
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console api started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console api stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	trail.Stop()
	logger.Info("console api exited properly")
}
