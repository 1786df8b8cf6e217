package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
)

// MockExecutor — заглушка доменного коллаборатора для локального запуска
// шлюза без реальных систем
type MockExecutor struct{}

func (c *MockExecutor) Execute(ctx context.Context, p domain.ActionPayload) ([]byte, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if strings.Contains(p.Target, "unstable") {
		return nil, fmt.Errorf("service internal error")
	}

	switch p.Method {
	case "DELETE":
		return []byte(`{"status": "deleted"}`), nil
	case "POST", "PUT", "PATCH":
		return []byte(`{"status": "applied"}`), nil
	default:
		return []byte(`{"status": "ok"}`), nil
	}
}
