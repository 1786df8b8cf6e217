package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "pgben"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanExecutionSignals — сигнал «заявка одобрена, пора исполнять».
	// Payload: request_id. Консолью публикуется ровно один раз на переход в APPROVED.
	RedisChanExecutionSignals = RedisNamespace + ":approvals:execute-signal"

	// RedisChanConfigInvalidation — инвалидация TTL-кэша конфигураций действий.
	// Payload: action_type. Публикуется консолью при любом изменении конфигурации.
	RedisChanConfigInvalidation = RedisNamespace + ":configs:invalidate"

	// RedisChanRequestEvents — топик шины событий жизненного цикла заявок
	// (created/decided/executed/cancelled). Слушают нотификации и метрики.
	RedisChanRequestEvents = RedisNamespace + ":approvals:events"
)

// Ключи блокировок
const (
	redisKeyExecutionLockPrefix = RedisNamespace + ":approvals:execution-lock:"
)

// ExecutionLockKey — распределенный замок «эта заявка уже исполняется».
// Берется через SetNX перед реплеем действия, чтобы два инстанса шлюза
// не исполнили одну заявку дважды.
func ExecutionLockKey(requestID string) string {
	return redisKeyExecutionLockPrefix + requestID
}

// EventChannel — канал конкретного вида событий, напр. pgben:approvals:events:request.created
func EventChannel(kind string) string {
	return fmt.Sprintf("%s:%s", RedisChanRequestEvents, kind)
}
