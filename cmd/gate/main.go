package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/connectors"
	"github.com/eudresfs/pgben-approval-engine/internal/engine"
	"github.com/eudresfs/pgben-approval-engine/internal/events"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"
	infrauth "github.com/eudresfs/pgben-approval-engine/internal/infra/auth"
	"github.com/eudresfs/pgben-approval-engine/internal/repository/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	// Контекст для управления жизненным циклом фоновых горутин.
	// При SIGTERM cancel() остановит слушателей Redis и пайплайн.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
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

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// Асинхронный аудиторский след: события уходят пачками, мимо Hot Path
	trail := audit.NewTrail(repo, cfg.Engine.AuditBufferSize, logger)
	trail.Start()

	// Шина событий жизненного цикла (fire-and-forget)
	bus := events.NewBus(rdb, logger)

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 3. Execution Layer (реплей + надежность)
	httpExecutor := connectors.NewHTTPExecutor(cfg.Engine.ExecutorTimeout, logger)
	// Оборачиваем в Reliability (Retries, Circuit Breaker, Rate Limit)
	safeExecutor := engine.NewReliabilityWrapper(httpExecutor, cfg.Engine, metrics)

	// Deferred Execution Pipeline: сигналы из Redis, замок через SetNX
	locker := engine.NewRedisLocker(rdb)
	pipeline := engine.NewPipeline(repo, safeExecutor, locker, rdb, bus, trail, metrics, cfg.Engine.ExecutionLockTTL, logger)
	pipeline.Start(appCtx)

	// 4. TTL-кэш конфигураций + слушатель инвалидации от консоли
	configCache := approval.NewConfigCache(repo, cfg.Engine.ConfigCacheTTL, logger)
	go engine.ListenChannelResilient(appCtx, rdb, logger.Named("config-invalidation"),
		infra.RedisChanConfigInvalidation,
		func() error {
			// За время разрыва сигналы могли пропасть, сбрасываем все
			configCache.Flush()
			return nil
		},
		func(actionType string) {
			configCache.Invalidate(actionType)
		},
	)

	// 5. Core (ядро согласований + шлюз)
	resolver := approval.NewResolver(repo, repo, logger)
	service := approval.NewService(repo, repo, resolver, repo, bus, bus, trail, logger)
	gate := engine.NewGateCore(
		configCache,
		repo,
		service,
		pipeline,
		safeExecutor,
		trail,
		metrics,
		cfg.Engine.AutoApproveCapabilities,
		logger,
	)

	// 6. HTTP Server
	// Цепочка защиты: Trace-ID -> RS256 токен -> шлюз
	pubKey, err := infrauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	validator := infrauth.NewRS256Verifier(pubKey)

	endpoint := http.HandlerFunc(gate.HandleHTTPRequest)
	protectedHandler := engine.TracingMiddleware(
		infrauth.NewMiddleware(validator, logger)(
			endpoint,
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/actions/execute", protectedHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("approval gate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("approval gate stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем фоновые слушатели и дописываем аудиторский буфер
	cancel()
	trail.Stop()
	logger.Info("approval gate exited properly")
}
