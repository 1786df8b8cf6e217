package approval

import (
	"context"
	"sync"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"go.uber.org/zap"
)

// ConfigProvider — источник правды по конфигурациям действий.
// Возвращает (nil, nil), если активной конфигурации нет: для шлюза это
// значит «согласование не требуется».
type ConfigProvider interface {
	GetActionConfig(ctx context.Context, actionType string) (*domain.ActionConfiguration, error)
}

type cacheEntry struct {
	cfg       *domain.ActionConfiguration // nil — отсутствие конфигурации тоже кэшируем
	expiresAt time.Time
}

// ConfigCache — TTL-кэш ответа на вопрос «требует ли действие X согласования».
// Hot Path шлюза ходит только в память; промах и истечение TTL ведут в
// репозиторий. Корректность движка от кэша не зависит: при ttl <= 0 кэш
// превращается в сквозной прокси к провайдеру.
type ConfigCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	provider ConfigProvider
	ttl      time.Duration
	logger   *zap.Logger
}

func NewConfigCache(provider ConfigProvider, ttl time.Duration, logger *zap.Logger) *ConfigCache {
	return &ConfigCache{
		entries:  make(map[string]cacheEntry),
		provider: provider,
		ttl:      ttl,
		logger:   logger.Named("config-cache"),
	}
}

// Get возвращает конфигурацию типа действия, при необходимости освежая кэш.
// Ошибка провайдера наружу не маскируется: вызывающий (шлюз) сам решает,
// что значит недоступность источника (fail-closed).
func (c *ConfigCache) Get(ctx context.Context, actionType string) (*domain.ActionConfiguration, error) {
	if c.ttl <= 0 {
		return c.provider.GetActionConfig(ctx, actionType)
	}

	c.mu.RLock()
	entry, ok := c.entries[actionType]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := c.provider.GetActionConfig(ctx, actionType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[actionType] = cacheEntry{cfg: cfg, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return cfg, nil
}

// Invalidate сбрасывает запись по типу действия (сигнал от Console API
// прилетает через Redis pub/sub при любом изменении конфигурации)
func (c *ConfigCache) Invalidate(actionType string) {
	c.mu.Lock()
	delete(c.entries, actionType)
	c.mu.Unlock()
	c.logger.Debug("config cache invalidated", zap.String("action_type", actionType))
}

// Flush вычищает кэш целиком (используется при переподключении к Redis,
// когда сигналы инвалидации могли быть пропущены)
func (c *ConfigCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
	c.logger.Info("config cache flushed")
}
