package engine

import (
	"context"
	"errors"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/connectors"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/eudresfs/pgben-approval-engine/internal/infra"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DomainExecutor — обобщенный реплей-хук: исполняет перехваченное действие
// против доменного коллаборатора, которому оно принадлежит
type DomainExecutor interface {
	Execute(ctx context.Context, payload domain.ActionPayload) ([]byte, error)
}

// ReliabilityWrapper оборачивает доменного исполнителя в Rate Limiter,
// Circuit Breaker и ретраи. Ретраи здесь закрывают транзиентные сетевые
// сбои ВНУТРИ одной попытки исполнения; повтор упавшего исполнения целиком —
// только через ручной Reprocess.
type ReliabilityWrapper struct {
	next     DomainExecutor
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	timeout  time.Duration
	attempts uint
}

func NewReliabilityWrapper(next DomainExecutor, cfg infra.EngineConfig, metrics *Metrics) *ReliabilityWrapper {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "approval-executor",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			val := 0.0
			if to == gobreaker.StateOpen {
				val = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(val)
		},
	})

	timeout := cfg.ExecutorTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(100), 20),
		timeout:  timeout,
		attempts: 3,
	}
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, payload domain.ActionPayload) (res []byte, err error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если коллаборатор вернул ThrottleError (считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Execute(tCtx, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
