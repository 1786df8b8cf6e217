package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Фейки шлюза ---

type fakeConfigs struct {
	configs map[string]*domain.ActionConfiguration
	err     error
}

func (f *fakeConfigs) Get(ctx context.Context, actionType string) (*domain.ActionConfiguration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.configs[actionType], nil
}

type fakeDirectory struct {
	users        map[string]*domain.User
	capabilities map[string]bool
	err          error
}

func (f *fakeDirectory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (f *fakeDirectory) FindUsersBySector(ctx context.Context, sectors []string) ([]domain.User, error) {
	return nil, nil
}

func (f *fakeDirectory) FindUsersByPermission(ctx context.Context, permissions []string) ([]domain.User, error) {
	return nil, nil
}

func (f *fakeDirectory) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return false, nil
}

func (f *fakeDirectory) HasAnyGeneralCapability(ctx context.Context, userID string, names []string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.capabilities[userID], nil
}

type fakeOrchestrator struct {
	mu      sync.Mutex
	created []approval.CreateInput
	result  *domain.ApprovalRequest
	err     error
	byCode  map[string]*domain.ApprovalRequest
}

func (f *fakeOrchestrator) CreateRequest(ctx context.Context, in approval.CreateInput) (*domain.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrchestrator) FindByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error) {
	req, ok := f.byCode[code]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

type gateEnv struct {
	configs      *fakeConfigs
	dir          *fakeDirectory
	orchestrator *fakeOrchestrator
	store        *fakeStore
	executor     *fakeExecutor
	locker       *fakeLocker
	gate         *GateCore
}

func newGateEnv() *gateEnv {
	configs := &fakeConfigs{configs: map[string]*domain.ActionConfiguration{}}
	dir := &fakeDirectory{users: map[string]*domain.User{}, capabilities: map[string]bool{}}
	orchestrator := &fakeOrchestrator{byCode: map[string]*domain.ApprovalRequest{}}
	store := newFakeStore()
	executor := &fakeExecutor{result: []byte(`{"status": "ok"}`)}
	locker := &fakeLocker{}
	pipeline := newTestPipeline(store, executor, locker, &fakeBus{})

	gate := NewGateCore(
		configs, dir, orchestrator, pipeline, executor,
		nopAuditor{}, NewMetrics(nil),
		[]string{"aprovacao.autoaprovar"},
		zap.NewNop(),
	)
	return &gateEnv{configs: configs, dir: dir, orchestrator: orchestrator, store: store, executor: executor, locker: locker, gate: gate}
}

func attemptFor(actionType, itemID string) ActionAttempt {
	return ActionAttempt{
		ActionType: actionType,
		ActorID:    "tecnico-1",
		Payload: domain.ActionPayload{
			Method: "DELETE",
			Target: "https://beneficios.internal/v1/beneficios/" + itemID,
			Params: map[string]any{"id": itemID},
		},
	}
}

// --- Тесты ---

func TestProcessAction_UngatedExecutesDirectly(t *testing.T) {
	e := newGateEnv()

	out, err := e.gate.ProcessAction(context.Background(), attemptFor("acao.livre", "x-1"))
	require.NoError(t, err)

	assert.True(t, out.Allowed)
	assert.Equal(t, []byte(`{"status": "ok"}`), []byte(out.Result))
	assert.Len(t, e.executor.calls, 1)
	assert.Empty(t, e.orchestrator.created)
}

func TestProcessAction_ConfigLookupFailsClosed(t *testing.T) {
	e := newGateEnv()
	e.configs.err = errors.New("postgres down")

	// Не можем выяснить, гейтится ли действие — блокируем, не исполняем
	_, err := e.gate.ProcessAction(context.Background(), attemptFor("beneficio.cancelar", "b-1"))
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	assert.Empty(t, e.executor.calls)
	assert.Empty(t, e.orchestrator.created)
}

func TestProcessAction_GatedCreatesRequest(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}
	e.orchestrator.result = &domain.ApprovalRequest{
		ID: "req-1", Code: "SOL-AAA-111111", Status: domain.StatusPending,
	}

	out, err := e.gate.ProcessAction(context.Background(), attemptFor("beneficio.cancelar", "b-2"))
	require.NoError(t, err)

	// Действие НЕ исполнено: вызвавший получил ссылку на заявку
	assert.False(t, out.Allowed)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, "SOL-AAA-111111", out.RequestCode)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Empty(t, e.executor.calls)

	require.Len(t, e.orchestrator.created, 1)
	assert.Equal(t, "tecnico-1", e.orchestrator.created[0].RequesterID)
}

func TestProcessAction_DuplicateReturnsExisting(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}
	e.orchestrator.err = &domain.DuplicateOpenRequestError{RequestID: "req-0", Code: "SOL-OLD-000000"}

	out, err := e.gate.ProcessAction(context.Background(), attemptFor("beneficio.cancelar", "b-3"))
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Equal(t, "req-0", out.RequestID)
	assert.Equal(t, "SOL-OLD-000000", out.RequestCode)
	assert.False(t, out.Allowed)
	assert.Empty(t, e.executor.calls)
}

func TestProcessAction_SelfApprovalProfile(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["relatorio.exportar"] = &domain.ActionConfiguration{
		ActionType:           "relatorio.exportar",
		Strategy:             domain.StrategySelfApproval,
		SelfApprovalProfiles: []string{"GESTOR"},
		Active:               true,
	}
	e.dir.users["tecnico-1"] = &domain.User{ID: "tecnico-1", Profile: "gestor", Status: domain.UserActive}

	out, err := e.gate.ProcessAction(context.Background(), attemptFor("relatorio.exportar", "r-1"))
	require.NoError(t, err)

	assert.True(t, out.Allowed)
	assert.True(t, out.AutoApproved)
	assert.Len(t, e.executor.calls, 1)
	assert.Empty(t, e.orchestrator.created)
}

func TestProcessAction_GeneralCapability(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}
	e.dir.capabilities["tecnico-1"] = true

	out, err := e.gate.ProcessAction(context.Background(), attemptFor("beneficio.cancelar", "b-4"))
	require.NoError(t, err)

	assert.True(t, out.Allowed)
	assert.True(t, out.AutoApproved)
}

func TestProcessAction_DirectoryDownSkipsAutoApproval(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}
	e.dir.err = errors.New("directory timeout")
	e.orchestrator.result = &domain.ApprovalRequest{ID: "req-2", Code: "SOL-BBB-222222", Status: domain.StatusPending}

	// Справочник недоступен: автоаппробации нет, обычный поток согласования
	out, err := e.gate.ProcessAction(context.Background(), attemptFor("beneficio.cancelar", "b-5"))
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "req-2", out.RequestID)
}

func TestProcessAction_Clearance(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}

	approved := approvedRequest("r-ok")
	approved.TargetKey = "beneficio.cancelar:b-6"
	e.orchestrator.byCode[approved.Code] = approved
	e.store.requests[approved.ID] = approved

	attempt := attemptFor("beneficio.cancelar", "b-6")
	attempt.ClearanceCode = approved.Code

	out, err := e.gate.ProcessAction(context.Background(), attempt)
	require.NoError(t, err)

	// Одобренная заявка закрыта исполнением через пайплайн
	assert.True(t, out.Allowed)
	assert.Equal(t, domain.StatusExecuted, out.Status)
	assert.Contains(t, e.store.executed, "r-ok")
	assert.Empty(t, e.orchestrator.created)
}

func TestProcessAction_ClearanceYieldsToRunningExecution(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}

	approved := approvedRequest("r-busy")
	approved.TargetKey = "beneficio.cancelar:b-9"
	e.orchestrator.byCode[approved.Code] = approved
	e.store.requests[approved.ID] = approved

	// Заявку уже исполняет асинхронный пайплайн: замок занят,
	// а Duplicate Guard все еще видит открытую заявку
	e.locker.deny = true
	e.orchestrator.err = &domain.DuplicateOpenRequestError{RequestID: approved.ID, Code: approved.Code}

	attempt := attemptFor("beneficio.cancelar", "b-9")
	attempt.ClearanceCode = approved.Code

	// Clearance уступает и уходит в обычный поток; второго исполнения нет
	out, err := e.gate.ProcessAction(context.Background(), attempt)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.True(t, out.Duplicate)
	assert.Equal(t, approved.ID, out.RequestID)
	assert.Empty(t, e.executor.calls)
}

func TestProcessAction_ClearanceWrongTargetIgnored(t *testing.T) {
	e := newGateEnv()
	e.configs.configs["beneficio.cancelar"] = &domain.ActionConfiguration{
		ActionType: "beneficio.cancelar", Strategy: domain.StrategySimple, Active: true,
	}

	approved := approvedRequest("r-other")
	approved.TargetKey = "beneficio.cancelar:OUTRO"
	e.orchestrator.byCode[approved.Code] = approved
	e.orchestrator.result = &domain.ApprovalRequest{ID: "req-3", Code: "SOL-CCC-333333", Status: domain.StatusPending}

	attempt := attemptFor("beneficio.cancelar", "b-7")
	attempt.ClearanceCode = approved.Code

	// Clearance на чужую цель игнорируется: обычный поток согласования
	out, err := e.gate.ProcessAction(context.Background(), attempt)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "req-3", out.RequestID)
	assert.Empty(t, e.executor.calls)
}

func TestProcessAction_Validation(t *testing.T) {
	e := newGateEnv()

	_, err := e.gate.ProcessAction(context.Background(), ActionAttempt{ActorID: "x"})
	assert.ErrorIs(t, err, domain.ErrEmptyRequester)

	_, err = e.gate.ProcessAction(context.Background(), ActionAttempt{ActionType: "a"})
	assert.ErrorIs(t, err, domain.ErrEmptyRequester)
}
