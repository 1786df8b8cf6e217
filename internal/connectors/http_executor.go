package connectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"go.uber.org/zap"
)

// HTTPExecutor реплеит перехваченное действие против доменного коллаборатора.
// Дескриптор действия HTTP-шейповый (метод + URL + параметры + тело),
// поэтому реплей — это буквально повтор исходного вызова.
type HTTPExecutor struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPExecutor(timeout time.Duration, logger *zap.Logger) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("http-executor"),
	}
}

// Execute повторяет исходный вызов: тело уходит как есть (движок его
// не интерпретирует), параметры — в query string.
func (e *HTTPExecutor) Execute(ctx context.Context, p domain.ActionPayload) ([]byte, error) {
	target, err := e.buildURL(p)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("executor: build request: %w", err)
	}
	if len(p.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	// Маркер, по которому доменная система отличает реплей от живого вызова
	// и пропускает его мимо собственного гейта (иначе получили бы цикл)
	req.Header.Set("X-Approval-Replay", "true")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor: call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("executor: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Прокидываем Retry-After в ReliabilityWrapper
		retryAfter := 5 * time.Second
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return nil, &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("downstream returned 429"),
		}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("executor: downstream returned %d: %s", resp.StatusCode, truncate(data, 256))
	}

	return data, nil
}

func (e *HTTPExecutor) buildURL(p domain.ActionPayload) (string, error) {
	u, err := url.Parse(p.Target)
	if err != nil {
		return "", fmt.Errorf("executor: invalid target url %q: %w", p.Target, err)
	}

	if len(p.Params) > 0 {
		q := u.Query()
		for k, v := range p.Params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
