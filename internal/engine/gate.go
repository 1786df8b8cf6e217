package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/directory"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	infrauth "github.com/eudresfs/pgben-approval-engine/internal/infra/auth"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfigSource — откуда шлюз узнает, гейтится ли действие (обычно TTL-кэш)
type ConfigSource interface {
	Get(ctx context.Context, actionType string) (*domain.ActionConfiguration, error)
}

// Orchestrator — срез ядра согласований, нужный шлюзу
type Orchestrator interface {
	CreateRequest(ctx context.Context, in approval.CreateInput) (*domain.ApprovalRequest, error)
	FindByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error)
}

// ActionAttempt — перехваченная попытка выполнить критическое действие
type ActionAttempt struct {
	ActionType      string               `json:"action_type"`
	ActorID         string               `json:"-"` // Из токена, не из тела
	Justification   string               `json:"justification"`
	ClearanceCode   string               `json:"clearance_code,omitempty"` // Ссылка на ранее одобренную заявку
	ExecutionMethod string               `json:"execution_method,omitempty"`
	Deadline        *time.Time           `json:"deadline,omitempty"`
	Payload         domain.ActionPayload `json:"payload"`
}

// GateOutcome — шлюз всегда возвращает либо результат действия, либо
// структурированный «требуется согласование». Тихих no-op не бывает.
type GateOutcome struct {
	Allowed      bool            `json:"allowed"`
	AutoApproved bool            `json:"auto_approved,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`

	RequestID   string               `json:"request_id,omitempty"`
	RequestCode string               `json:"request_code,omitempty"`
	Status      domain.RequestStatus `json:"status,omitempty"`
	Duplicate   bool                 `json:"duplicate,omitempty"`
}

// GateCore — синхронная точка принятия решения на каждой попытке
// критического действия
type GateCore struct {
	configs      ConfigSource
	directory    directory.Provider
	orchestrator Orchestrator
	pipeline     *Pipeline
	executor     DomainExecutor
	auditor      audit.Recorder
	metrics      *Metrics

	// Общие гранты, дающие автоаппробацию независимо от стратегии
	autoApproveCaps []string

	logger *zap.Logger
}

func NewGateCore(
	configs ConfigSource,
	dir directory.Provider,
	orchestrator Orchestrator,
	pipeline *Pipeline,
	executor DomainExecutor,
	auditor audit.Recorder,
	metrics *Metrics,
	autoApproveCaps []string,
	logger *zap.Logger,
) *GateCore {
	return &GateCore{
		configs:         configs,
		directory:       dir,
		orchestrator:    orchestrator,
		pipeline:        pipeline,
		executor:        executor,
		auditor:         auditor,
		metrics:         metrics,
		autoApproveCaps: autoApproveCaps,
		logger:          logger.Named("gate"),
	}
}

// ProcessAction — алгоритм шлюза. Вызывается синхронно ДО реальных side effects.
func (g *GateCore) ProcessAction(ctx context.Context, attempt ActionAttempt) (*GateOutcome, error) {
	start := time.Now()
	traceID := extractTraceID(ctx)
	outcome := "error"

	defer func() {
		g.metrics.GateDecisions.WithLabelValues(attempt.ActionType, outcome).Inc()
		g.metrics.GateDuration.WithLabelValues(attempt.ActionType, outcome).Observe(time.Since(start).Seconds())
	}()

	if attempt.ActionType == "" || attempt.ActorID == "" {
		return nil, domain.ErrEmptyRequester
	}

	// 1. Нет активной конфигурации — действие не гейтится, исполняем сразу
	cfg, err := g.configs.Get(ctx, attempt.ActionType)
	if err != nil {
		// Fail-closed: не можем выяснить, требуется ли согласование —
		// значит считаем, что требуется, и действие НЕ исполняем
		g.logger.Error("config lookup failed, failing closed",
			zap.String("action_type", attempt.ActionType), zap.Error(err))
		return nil, fmt.Errorf("%w: action config lookup", domain.ErrDependencyUnavailable)
	}
	if cfg == nil || !cfg.Active {
		result, execErr := g.executor.Execute(ctx, attempt.Payload)
		if execErr != nil {
			g.audit(traceID, attempt, "executed_direct", "FAILED", execErr)
			return nil, execErr
		}
		outcome = "allowed"
		g.audit(traceID, attempt, "executed_direct", "SUCCESS", nil)
		return &GateOutcome{Allowed: true, Result: result}, nil
	}

	// 2. Автоаппробация: профиль заявителя под SELF_APPROVAL либо общий грант.
	// Сбой справочника здесь не фатален — просто идем по ветке согласования
	if g.qualifiesForAutoApproval(ctx, cfg, attempt.ActorID) {
		result, execErr := g.executor.Execute(ctx, attempt.Payload)
		if execErr != nil {
			g.audit(traceID, attempt, "auto_approved", "FAILED", execErr)
			return nil, execErr
		}
		outcome = "auto_approved"
		g.audit(traceID, attempt, "auto_approved", "SUCCESS", nil)
		return &GateOutcome{Allowed: true, AutoApproved: true, Result: result}, nil
	}

	// 3. Clearance: вызывающий принес код уже одобренной заявки по этой же цели
	if attempt.ClearanceCode != "" {
		if out, ok := g.tryClearance(ctx, attempt); ok {
			outcome = "cleared"
			return out, nil
		}
	}

	// 4-5. Duplicate Guard + материализация заявки. Гонка check-then-insert
	// закрыта уникальным индексом внутри CreateRequest.
	req, err := g.orchestrator.CreateRequest(ctx, approval.CreateInput{
		ActionType:      attempt.ActionType,
		RequesterID:     attempt.ActorID,
		Justification:   attempt.Justification,
		Payload:         attempt.Payload,
		ExecutionMethod: attempt.ExecutionMethod,
		Deadline:        attempt.Deadline,
		TraceID:         traceID,
	})
	if err != nil {
		var dup *domain.DuplicateOpenRequestError
		if errors.As(err, &dup) {
			// Существующую заявку отдаем вызывающему, новую НЕ создаем
			outcome = "duplicate"
			return &GateOutcome{
				RequestID:   dup.RequestID,
				RequestCode: dup.Code,
				Status:      domain.StatusPending,
				Duplicate:   true,
			}, nil
		}
		return nil, err
	}

	// Реальное действие на этом вызове НЕ исполняется
	outcome = "pending"
	return &GateOutcome{
		RequestID:   req.ID,
		RequestCode: req.Code,
		Status:      req.Status,
	}, nil
}

// qualifiesForAutoApproval: недоступность справочника — это «нет», не ошибка
// (fail-closed в сторону согласования)
func (g *GateCore) qualifiesForAutoApproval(ctx context.Context, cfg *domain.ActionConfiguration, actorID string) bool {
	if cfg.Strategy == domain.StrategySelfApproval {
		user, err := g.directory.GetUser(ctx, actorID)
		if err != nil {
			g.logger.Warn("user lookup failed, skipping self-approval check",
				zap.String("actor_id", actorID), zap.Error(err))
		} else if cfg.AllowsSelfApproval(user.Profile) {
			return true
		}
	}

	if len(g.autoApproveCaps) > 0 {
		ok, err := g.directory.HasAnyGeneralCapability(ctx, actorID, g.autoApproveCaps)
		if err != nil {
			g.logger.Warn("capability lookup failed, skipping auto-approve grant",
				zap.String("actor_id", actorID), zap.Error(err))
			return false
		}
		return ok
	}
	return false
}

// tryClearance: заявка должна существовать, быть APPROVED и указывать
// на ту же цель. Иначе clearance игнорируется и идем обычным путем.
func (g *GateCore) tryClearance(ctx context.Context, attempt ActionAttempt) (*GateOutcome, bool) {
	req, err := g.orchestrator.FindByCode(ctx, attempt.ClearanceCode)
	if err != nil || req == nil {
		return nil, false
	}
	if req.Status != domain.StatusApproved ||
		req.ActionType != attempt.ActionType ||
		req.TargetKey != attempt.Payload.TargetKey(attempt.ActionType) {
		return nil, false
	}

	// Исполняем и закрываем заявку через единый замок пайплайна: clearance
	// и асинхронный сигнал не могут исполнить одну заявку параллельно
	result, claimed, execErr := g.pipeline.TryExecute(ctx, req.ID)
	if !claimed {
		// Заявку уже ведет другой путь (или замок недоступен) — clearance
		// не применяем, дальше сработает Duplicate Guard
		return nil, false
	}
	if execErr != nil {
		// Исход уже зафиксирован на заявке (EXECUTION_ERROR)
		return &GateOutcome{
			RequestID:   req.ID,
			RequestCode: req.Code,
			Status:      domain.StatusExecutionError,
		}, true
	}
	return &GateOutcome{
		Allowed:     true,
		Result:      result,
		RequestID:   req.ID,
		RequestCode: req.Code,
		Status:      domain.StatusExecuted,
	}, true
}

func (g *GateCore) audit(traceID string, attempt ActionAttempt, action, status string, execErr error) {
	event := audit.Event{
		ID:         uuid.New().String(),
		TraceID:    traceID,
		ActorID:    attempt.ActorID,
		EntityType: "critical_action",
		EntityID:   attempt.Payload.TargetKey(attempt.ActionType),
		Action:     action,
		Status:     status,
	}
	if execErr != nil {
		event.Error = execErr.Error()
	}
	g.auditor.Record(event)
}

// HandleHTTPRequest — входная точка шлюза: POST /v1/actions/execute
func (g *GateCore) HandleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	actorID := infrauth.UserID(r.Context())
	if actorID == "" {
		// Для внутренних вызовов между сервисами допускаем явный заголовок
		actorID = r.Header.Get("X-Actor-ID")
	}
	if actorID == "" {
		http.Error(w, `{"error": "actor identity is required"}`, http.StatusUnauthorized)
		return
	}

	var attempt ActionAttempt
	if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	attempt.ActorID = actorID

	out, err := g.ProcessAction(r.Context(), attempt)
	if err != nil {
		g.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !out.Allowed {
		// Действие не исполнено: вызывающий получает ссылку на заявку
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(out)
}

func (g *GateCore) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, domain.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnknownActionType), errors.Is(err, domain.ErrEmptyRequester):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoApproversResolved):
		status = http.StatusUnprocessableEntity
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
