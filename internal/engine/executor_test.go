package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Фейки пайплайна ---

type fakeStore struct {
	mu       sync.Mutex
	requests map[string]*domain.ApprovalRequest

	executed   map[string]domain.ExecutionSummary
	execErrors map[string]string
	stuck      []string
}

func newFakeStore(reqs ...*domain.ApprovalRequest) *fakeStore {
	s := &fakeStore{
		requests:   make(map[string]*domain.ApprovalRequest),
		executed:   make(map[string]domain.ExecutionSummary),
		execErrors: make(map[string]string),
	}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id], nil
}

func (s *fakeStore) MarkExecuted(ctx context.Context, id string, summary domain.ExecutionSummary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != domain.StatusApproved {
		return false, nil
	}
	req.Status = domain.StatusExecuted
	s.executed[id] = summary
	return true, nil
}

func (s *fakeStore) MarkExecutionError(ctx context.Context, id string, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != domain.StatusApproved {
		return false, nil
	}
	req.Status = domain.StatusExecutionError
	s.execErrors[id] = errMsg
	return true, nil
}

func (s *fakeStore) ListStuckApproved(ctx context.Context, olderThan time.Duration) ([]string, error) {
	return s.stuck, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	acquired map[string]bool
	released []string
	deny     bool
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	if l.acquired == nil {
		l.acquired = make(map[string]bool)
	}
	if l.acquired[key] {
		return false, nil
	}
	l.acquired[key] = true
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.acquired, key)
	l.released = append(l.released, key)
	return nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []domain.ActionPayload
	result []byte
	err    error
}

func (e *fakeExecutor) Execute(ctx context.Context, payload domain.ActionPayload) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, payload)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.RequestEvent
}

func (b *fakeBus) Publish(ctx context.Context, event domain.RequestEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

type nopAuditor struct{}

func (nopAuditor) Record(event audit.Event) {}

func approvedRequest(id string) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:         id,
		Code:       "SOL-TEST-" + id,
		Status:     domain.StatusApproved,
		ActionType: "beneficio.cancelar",
		TargetKey:  "beneficio.cancelar:" + id,
		Payload: domain.ActionPayload{
			Method: "DELETE",
			Target: "https://beneficios.internal/v1/beneficios/" + id,
			Params: map[string]any{"id": id},
		},
	}
}

func newTestPipeline(store *fakeStore, executor *fakeExecutor, locker *fakeLocker, bus *fakeBus) *Pipeline {
	return NewPipeline(store, executor, locker, nil, bus, nopAuditor{}, NewMetrics(nil), time.Minute, zap.NewNop())
}

// --- Тесты ---

func TestExecuteApproved_Success(t *testing.T) {
	req := approvedRequest("r-1")
	store := newFakeStore(req)
	executor := &fakeExecutor{result: []byte(`{"status": "deleted"}`)}
	bus := &fakeBus{}
	p := newTestPipeline(store, executor, &fakeLocker{}, bus)

	result, err := p.ExecuteApproved(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status": "deleted"}`), result)

	// Исход зафиксирован на заявке
	summary, ok := store.executed["r-1"]
	require.True(t, ok)
	assert.Equal(t, "DELETE", summary.Method)
	assert.Equal(t, req.Payload.Target, summary.Target)

	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.StatusExecuted, bus.events[0].Status)
}

func TestExecuteApproved_Failure(t *testing.T) {
	req := approvedRequest("r-2")
	store := newFakeStore(req)
	executor := &fakeExecutor{err: errors.New("downstream returned 500")}
	bus := &fakeBus{}
	p := newTestPipeline(store, executor, &fakeLocker{}, bus)

	_, err := p.ExecuteApproved(context.Background(), req)
	require.Error(t, err)

	// Ошибка исполнения живет на заявке, не у согласующего
	assert.Equal(t, "downstream returned 500", store.execErrors["r-2"])
	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.StatusExecutionError, bus.events[0].Status)
}

func TestProcess_LockContention(t *testing.T) {
	req := approvedRequest("r-3")
	store := newFakeStore(req)
	executor := &fakeExecutor{result: []byte(`{}`)}
	locker := &fakeLocker{deny: true}
	p := newTestPipeline(store, executor, locker, &fakeBus{})

	// Замок занят другим инстансом: исполнения нет
	p.Process(context.Background(), "r-3")
	assert.Empty(t, executor.calls)
	assert.Empty(t, store.executed)
}

func TestProcess_SkipsNonApproved(t *testing.T) {
	req := approvedRequest("r-4")
	req.Status = domain.StatusExecuted // Сигнал пришел повторно
	store := newFakeStore(req)
	executor := &fakeExecutor{result: []byte(`{}`)}
	p := newTestPipeline(store, executor, &fakeLocker{}, &fakeBus{})

	p.Process(context.Background(), "r-4")
	assert.Empty(t, executor.calls)
}

func TestProcess_ReleasesLockAfterFailure(t *testing.T) {
	req := approvedRequest("r-6")
	store := newFakeStore(req)
	executor := &fakeExecutor{err: errors.New("downstream returned 502")}
	locker := &fakeLocker{}
	p := newTestPipeline(store, executor, locker, &fakeBus{})

	// Первая попытка падает, заявка уходит в EXECUTION_ERROR
	p.Process(context.Background(), "r-6")
	require.Equal(t, domain.StatusExecutionError, store.requests["r-6"].Status)
	assert.Len(t, locker.released, 1)

	// Оператор чинит даунстрим и делает Reprocess:
	// EXECUTION_ERROR -> APPROVED плюс повторный сигнал пайплайну
	executor.mu.Lock()
	executor.err = nil
	executor.result = []byte(`{}`)
	executor.mu.Unlock()
	store.mu.Lock()
	store.requests["r-6"].Status = domain.StatusApproved
	store.mu.Unlock()

	// Замок первой попытки снят, повторный сигнал проходит
	p.Process(context.Background(), "r-6")
	assert.Len(t, executor.calls, 2)
	assert.Equal(t, domain.StatusExecuted, store.requests["r-6"].Status)
}

func TestProcess_ExecutesApproved(t *testing.T) {
	req := approvedRequest("r-5")
	store := newFakeStore(req)
	executor := &fakeExecutor{result: []byte(`{}`)}
	p := newTestPipeline(store, executor, &fakeLocker{}, &fakeBus{})

	p.Process(context.Background(), "r-5")
	assert.Len(t, executor.calls, 1)
	assert.Contains(t, store.executed, "r-5")
}
