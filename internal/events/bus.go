package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus — шина событий жизненного цикла заявок поверх Redis Pub/Sub.
// Все публикации fire-and-forget: сбой доставки логируется, но никогда
// не возвращается вызывающему и не валит транзакцию решения.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBus(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger.Named("event-bus")}
}

// Publish отправляет событие в общий топик и в топик конкретного вида.
// Нотификации и метрики подписываются на то, что им нужно.
func (b *Bus) Publish(ctx context.Context, event domain.RequestEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal request event", zap.Error(err))
		return
	}

	if err := b.rdb.Publish(ctx, infra.RedisChanRequestEvents, payload).Err(); err != nil {
		b.logger.Warn("event delivery failed",
			zap.String("kind", string(event.Kind)),
			zap.String("request_id", event.RequestID),
			zap.Error(err))
		return
	}
	// Дублируем в типизированный канал для точечных подписчиков
	if err := b.rdb.Publish(ctx, infra.EventChannel(string(event.Kind)), payload).Err(); err != nil {
		b.logger.Warn("typed event delivery failed", zap.String("kind", string(event.Kind)), zap.Error(err))
	}
}

// Schedule будит Deferred Execution Pipeline на шлюзе.
// Вызывается ровно один раз — тем решением, которое перевело заявку в APPROVED.
func (b *Bus) Schedule(ctx context.Context, requestID string) {
	if err := b.rdb.Publish(ctx, infra.RedisChanExecutionSignals, requestID).Err(); err != nil {
		// Если Redis недоступен, заявку подхватит ручной Reprocess
		// или рестарт шлюза (сканирование зависших APPROVED)
		b.logger.Error("critical: approval recorded but execution signal not delivered",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// InvalidateConfig транслирует шлюзам сигнал сброса TTL-кэша конфигураций
func (b *Bus) InvalidateConfig(ctx context.Context, actionType string) {
	if err := b.rdb.Publish(ctx, infra.RedisChanConfigInvalidation, actionType).Err(); err != nil {
		b.logger.Warn("config invalidation signal failed",
			zap.String("action_type", actionType),
			zap.Error(err))
	}
}
