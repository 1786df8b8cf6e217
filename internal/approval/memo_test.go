package approval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingProvider struct {
	calls int64
	cfg   *domain.ActionConfiguration
}

func (p *countingProvider) GetActionConfig(ctx context.Context, actionType string) (*domain.ActionConfiguration, error) {
	atomic.AddInt64(&p.calls, 1)
	return p.cfg, nil
}

func TestConfigCache_Hit(t *testing.T) {
	provider := &countingProvider{cfg: &domain.ActionConfiguration{ActionType: "act", Active: true}}
	cache := NewConfigCache(provider, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cfg, err := cache.Get(ctx, "act")
		require.NoError(t, err)
		require.NotNil(t, cfg)
	}

	// Провайдер дернут один раз, остальное из памяти
	assert.EqualValues(t, 1, atomic.LoadInt64(&provider.calls))
}

func TestConfigCache_CachesAbsence(t *testing.T) {
	// Отсутствие конфигурации («не гейтится») — тоже кэшируемый ответ
	provider := &countingProvider{cfg: nil}
	cache := NewConfigCache(provider, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := cache.Get(ctx, "livre")
		require.NoError(t, err)
		assert.Nil(t, cfg)
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&provider.calls))
}

func TestConfigCache_Invalidate(t *testing.T) {
	provider := &countingProvider{cfg: &domain.ActionConfiguration{ActionType: "act", Active: true}}
	cache := NewConfigCache(provider, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Get(ctx, "act")
	require.NoError(t, err)

	cache.Invalidate("act")

	_, err = cache.Get(ctx, "act")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&provider.calls))
}

func TestConfigCache_Flush(t *testing.T) {
	provider := &countingProvider{cfg: &domain.ActionConfiguration{ActionType: "act", Active: true}}
	cache := NewConfigCache(provider, time.Minute, zap.NewNop())
	ctx := context.Background()

	_, _ = cache.Get(ctx, "act")
	cache.Flush()
	_, _ = cache.Get(ctx, "act")

	assert.EqualValues(t, 2, atomic.LoadInt64(&provider.calls))
}

func TestConfigCache_DisabledTTLPassesThrough(t *testing.T) {
	provider := &countingProvider{cfg: &domain.ActionConfiguration{ActionType: "act", Active: true}}
	cache := NewConfigCache(provider, 0, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cache.Get(ctx, "act")
		require.NoError(t, err)
	}

	// ttl <= 0 — сквозной прокси, каждый вызов идет в провайдер
	assert.EqualValues(t, 3, atomic.LoadInt64(&provider.calls))
}
