package engine

import (
	"context"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RequestStore — срез хранилища, нужный пайплайну исполнения
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)

	// MarkExecuted / MarkExecutionError — условные переводы из APPROVED.
	// Возвращают false, если заявка уже не в APPROVED (кто-то успел раньше).
	MarkExecuted(ctx context.Context, id string, summary domain.ExecutionSummary) (bool, error)
	MarkExecutionError(ctx context.Context, id string, errMsg string) (bool, error)

	// ListStuckApproved — заявки, зависшие в APPROVED (пропущенные сигналы)
	ListStuckApproved(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// Locker — распределенный замок «заявка уже исполняется».
// Замок сериализует конкурентные исполнения, а не служит кулдауном:
// после завершения попытки он снимается, иначе ручной Reprocess
// упрется в протухший ключ.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventPublisher — шина событий (fire-and-forget)
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RequestEvent)
}

// RedisLocker — реализация замка через SetNX
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "processing", ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// Pipeline — Deferred Execution Pipeline: просыпается по сигналу из Redis,
// реплеит перехваченное действие и фиксирует исход на заявке.
// Работает вне цикла запрос/ответ согласующего: его сбои никогда не
// блокируют и не роняют вызов decide.
type Pipeline struct {
	store    RequestStore
	executor DomainExecutor
	locker   Locker
	rdb      *redis.Client
	bus      EventPublisher
	auditor  audit.Recorder
	metrics  *Metrics
	lockTTL  time.Duration
	logger   *zap.Logger
}

func NewPipeline(
	store RequestStore,
	executor DomainExecutor,
	locker Locker,
	rdb *redis.Client,
	bus EventPublisher,
	auditor audit.Recorder,
	metrics *Metrics,
	lockTTL time.Duration,
	logger *zap.Logger,
) *Pipeline {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Pipeline{
		store:    store,
		executor: executor,
		locker:   locker,
		rdb:      rdb,
		bus:      bus,
		auditor:  auditor,
		metrics:  metrics,
		lockTTL:  lockTTL,
		logger:   logger.Named("execution-pipeline"),
	}
}

// Start подписывается на сигналы исполнения. При каждом (пере)подключении
// пересканирует зависшие APPROVED — за время разрыва сигналы могли пропасть.
func (p *Pipeline) Start(ctx context.Context) {
	go ListenChannelResilient(ctx, p.rdb, p.logger, infra.RedisChanExecutionSignals,
		func() error {
			return p.resubmitStuck(ctx)
		},
		func(requestID string) {
			go p.Process(ctx, requestID)
		},
	)
}

// Process — обработка одного сигнала: замок, проверка статуса, исполнение.
// Исход уже зафиксирован на заявке; ошибку наружу не поднимаем.
func (p *Pipeline) Process(ctx context.Context, requestID string) {
	_, _, _ = p.TryExecute(ctx, requestID)
}

// TryExecute — единственная точка сериализации исполнения. И асинхронный
// сигнал, и clearance-ветка шлюза проходят через нее: замок, перепроверка
// статуса из хранилища, исполнение. claimed == false означает, что заявку
// уже ведет другой путь или она больше не APPROVED.
func (p *Pipeline) TryExecute(ctx context.Context, requestID string) (result []byte, claimed bool, err error) {
	// Распределенный замок: два инстанса шлюза не исполнят заявку дважды
	lockKey := infra.ExecutionLockKey(requestID)
	ok, err := p.locker.Acquire(ctx, lockKey, p.lockTTL)
	if err != nil {
		p.logger.Error("execution lock failed", zap.String("request_id", requestID), zap.Error(err))
		return nil, false, err
	}
	if !ok {
		p.logger.Debug("execution already claimed by another instance", zap.String("request_id", requestID))
		return nil, false, nil
	}
	// Замок снимается после завершения попытки: провал исполнения
	// оставляет заявку доступной для ручного Reprocess
	defer func() {
		if rerr := p.locker.Release(ctx, lockKey); rerr != nil {
			p.logger.Warn("execution lock release failed, will expire by TTL",
				zap.String("request_id", requestID), zap.Error(rerr))
		}
	}()

	req, err := p.store.GetByID(ctx, requestID)
	if err != nil || req == nil {
		p.logger.Error("failed to load request for execution", zap.String("request_id", requestID), zap.Error(err))
		return nil, false, err
	}
	if req.Status != domain.StatusApproved {
		p.metrics.ExecutionTotal.WithLabelValues("skipped").Inc()
		return nil, false, nil
	}

	result, execErr := p.ExecuteApproved(ctx, req)
	return result, true, execErr
}

// ExecuteApproved реплеит действие одобренной заявки и фиксирует исход.
// Используется пайплайном и clearance-веткой шлюза. Исполнение и
// бухгалтерия идут вместе: если запись исхода упала ПОСЛЕ успешного
// доменного вызова, side effect уже случился и не откатывается —
// принятый компромисс (at-least-once наружу, exactly-once в учете успеха).
func (p *Pipeline) ExecuteApproved(ctx context.Context, req *domain.ApprovalRequest) ([]byte, error) {
	start := time.Now()

	result, execErr := p.executor.Execute(ctx, req.Payload)
	duration := time.Since(start)

	if execErr != nil {
		p.metrics.ExecutionTotal.WithLabelValues("execution_error").Inc()
		p.metrics.ExecutionDuration.WithLabelValues("execution_error").Observe(duration.Seconds())

		if _, err := p.store.MarkExecutionError(ctx, req.ID, execErr.Error()); err != nil {
			p.logger.Error("failed to record execution error", zap.String("code", req.Code), zap.Error(err))
		}
		p.bus.Publish(ctx, domain.RequestEvent{
			Kind:       domain.EventRequestExecuted,
			RequestID:  req.ID,
			Code:       req.Code,
			ActionType: req.ActionType,
			Status:     domain.StatusExecutionError,
		})
		p.auditor.Record(audit.Event{
			ID:         uuid.New().String(),
			EntityType: "approval_request",
			EntityID:   req.ID,
			Action:     "executed",
			Status:     "FAILED",
			Error:      execErr.Error(),
			DurationMs: duration.Milliseconds(),
		})
		p.logger.Warn("deferred execution failed",
			zap.String("code", req.Code),
			zap.String("target", req.Payload.Target),
			zap.Error(execErr))
		return nil, execErr
	}

	summary := domain.ExecutionSummary{
		Method:     req.Payload.Method,
		Target:     req.Payload.Target,
		Result:     string(result),
		ExecutedAt: time.Now(),
	}
	if _, err := p.store.MarkExecuted(ctx, req.ID, summary); err != nil {
		// Доменный вызов уже прошел — фиксацию не откатываем, только кричим
		p.logger.Error("critical: action executed but bookkeeping failed",
			zap.String("code", req.Code), zap.Error(err))
	}

	p.metrics.ExecutionTotal.WithLabelValues("executed").Inc()
	p.metrics.ExecutionDuration.WithLabelValues("executed").Observe(duration.Seconds())

	p.bus.Publish(ctx, domain.RequestEvent{
		Kind:       domain.EventRequestExecuted,
		RequestID:  req.ID,
		Code:       req.Code,
		ActionType: req.ActionType,
		Status:     domain.StatusExecuted,
	})
	p.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		EntityType: "approval_request",
		EntityID:   req.ID,
		Action:     "executed",
		After:      map[string]interface{}{"method": summary.Method, "target": summary.Target},
		Status:     "SUCCESS",
		DurationMs: duration.Milliseconds(),
	})
	p.logger.Info("deferred execution completed",
		zap.String("code", req.Code),
		zap.Duration("took", duration))

	return result, nil
}

// resubmitStuck дозапускает заявки, одобренные, но не исполненные
// (например, Redis-сигнал потерялся при рестарте)
func (p *Pipeline) resubmitStuck(ctx context.Context) error {
	ids, err := p.store.ListStuckApproved(ctx, time.Minute)
	if err != nil {
		return err
	}
	for _, id := range ids {
		p.logger.Info("resubmitting stuck approved request", zap.String("request_id", id))
		go p.Process(ctx, id)
	}
	return nil
}
