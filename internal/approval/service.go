package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/directory"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateTarget возвращается репозиторием, когда вставка заявки
// уперлась в частичный уникальный индекс открытых заявок. Это штатный
// исход гонки check-then-insert, а не фатальная ошибка.
var ErrDuplicateTarget = errors.New("open request already exists for target key")

// Repository — контракт хранилища заявок. Конкурентные инварианты
// (одна открытая заявка на цель, первое решение побеждает) обеспечиваются
// на этом уровне атомарными условными операциями.
type Repository interface {
	// Insert атомарно сохраняет заявку вместе с назначениями согласующих.
	// При нарушении уникальности открытой цели возвращает ErrDuplicateTarget.
	Insert(ctx context.Context, req *domain.ApprovalRequest, assignments []domain.ApproverAssignment) error

	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error)
	FindOpenByTargetKey(ctx context.Context, targetKey string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.ApprovalRequest, int64, error)

	ListAssignments(ctx context.Context, requestID string) ([]domain.ApproverAssignment, error)
	GetAssignment(ctx context.Context, requestID, userID string) (*domain.ApproverAssignment, error)

	// RecordDecision — одиночный атомарный апдейт, ограниченный условием
	// «этот согласующий еще не решал и заявка еще PENDING».
	// Возвращает false, если условие не выполнилось.
	RecordDecision(ctx context.Context, requestID, userID string, decision domain.Decision, justification string, attachments []string) (bool, error)

	// Transition — условный перевод статуса (WHERE status = from).
	// Возвращает false, если гонку выиграл кто-то другой.
	Transition(ctx context.Context, requestID string, from, to domain.RequestStatus) (bool, error)
}

// ListFilter — фильтры и пагинация для очереди заявок
type ListFilter struct {
	Status      domain.RequestStatus
	ActionType  string
	RequesterID string
	ApproverID  string
	Limit       int
	Offset      int
}

// ExecutionScheduler будит Deferred Execution Pipeline. Fire-and-forget.
type ExecutionScheduler interface {
	Schedule(ctx context.Context, requestID string)
}

// EventPublisher — шина событий жизненного цикла. Fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RequestEvent)
}

// Service — ядро оркестрации согласований: создание заявок, фиксация
// решений, отмена, выборки. Вся логика стратегий делегируется Resolver'у,
// все конкурентные инварианты — условным операциям Repository.
type Service struct {
	repo      Repository
	configs   ConfigProvider
	resolver  *Resolver
	directory directory.Provider
	scheduler ExecutionScheduler
	bus       EventPublisher
	auditor   audit.Recorder
	logger    *zap.Logger
}

func NewService(
	repo Repository,
	configs ConfigProvider,
	resolver *Resolver,
	dir directory.Provider,
	scheduler ExecutionScheduler,
	bus EventPublisher,
	auditor audit.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		configs:   configs,
		resolver:  resolver,
		directory: dir,
		scheduler: scheduler,
		bus:       bus,
		auditor:   auditor,
		logger:    logger.Named("approval-service"),
	}
}

// IsApprovalRequired — действие гейтится, только если для него существует
// активная конфигурация
func (s *Service) IsApprovalRequired(ctx context.Context, actionType string) (bool, error) {
	cfg, err := s.configs.GetActionConfig(ctx, actionType)
	if err != nil {
		return false, err
	}
	return cfg != nil && cfg.Active, nil
}

// CreateInput — все, что шлюз перехватил у входящего вызова
type CreateInput struct {
	ActionType      string
	RequesterID     string
	Justification   string
	Payload         domain.ActionPayload
	ExecutionMethod string
	Deadline        *time.Time
	Attachments     []string
	TraceID         string
}

// CreateRequest материализует заявку: разрешает стратегию, замораживает
// набор согласующих и кворум, атомарно вставляет заявку с назначениями.
// При существующей открытой заявке по той же цели возвращает
// *domain.DuplicateOpenRequestError со ссылкой на нее.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*domain.ApprovalRequest, error) {
	if in.RequesterID == "" {
		return nil, domain.ErrEmptyRequester
	}

	cfg, err := s.configs.GetActionConfig(ctx, in.ActionType)
	if err != nil {
		return nil, fmt.Errorf("action config lookup: %w", err)
	}
	if cfg == nil || !cfg.Active {
		return nil, domain.ErrUnknownActionType
	}

	targetKey := in.Payload.TargetKey(in.ActionType)

	// 1. Быстрая проверка дубликата. Это оптимизация UX, а не гарантия:
	// настоящий барьер — частичный уникальный индекс при вставке.
	if existing, err := s.repo.FindOpenByTargetKey(ctx, targetKey); err == nil && existing != nil {
		return nil, &domain.DuplicateOpenRequestError{RequestID: existing.ID, Code: existing.Code}
	}

	// 2. Разрешение стратегии. Профиль заявителя нужен только для
	// SELF_APPROVAL; недоступный справочник — повод деградировать, не падать.
	requester, err := s.directory.GetUser(ctx, in.RequesterID)
	if err != nil {
		s.logger.Warn("requester lookup failed, self-approval check degraded",
			zap.String("requester_id", in.RequesterID), zap.Error(err))
		requester = nil
	}

	resolution, err := s.resolver.Resolve(ctx, cfg, requester)
	if err != nil {
		return nil, fmt.Errorf("strategy resolution: %w", err)
	}

	now := time.Now()
	req := &domain.ApprovalRequest{
		ID:              uuid.New().String(),
		Code:            GenerateCode(),
		Status:          domain.StatusPending,
		ActionType:      in.ActionType,
		RequesterID:     in.RequesterID,
		Justification:   in.Justification,
		Payload:         in.Payload,
		ExecutionMethod: in.ExecutionMethod,
		TargetKey:       targetKey,
		Strategy:        resolution.Strategy,
		Quorum:          resolution.Quorum,
		Deadline:        in.Deadline,
		Attachments:     in.Attachments,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	assignments := make([]domain.ApproverAssignment, 0, len(resolution.Approvers))
	for _, userID := range resolution.Approvers {
		assignments = append(assignments, domain.ApproverAssignment{
			ID:        uuid.New().String(),
			RequestID: req.ID,
			UserID:    userID,
			Decision:  domain.DecisionUndecided,
			Active:    true,
			CreatedAt: now,
		})
	}

	// 3. Атомарная вставка. Проигрыш гонки по уникальному индексу —
	// это «дубликат найден», вызвавшему отдаем код победителя.
	if err := s.repo.Insert(ctx, req, assignments); err != nil {
		if errors.Is(err, ErrDuplicateTarget) {
			if existing, ferr := s.repo.FindOpenByTargetKey(ctx, targetKey); ferr == nil && existing != nil {
				return nil, &domain.DuplicateOpenRequestError{RequestID: existing.ID, Code: existing.Code}
			}
			return nil, &domain.DuplicateOpenRequestError{Code: "UNKNOWN"}
		}
		return nil, fmt.Errorf("insert approval request: %w", err)
	}

	s.bus.Publish(ctx, domain.RequestEvent{
		Kind:       domain.EventRequestCreated,
		RequestID:  req.ID,
		Code:       req.Code,
		ActionType: req.ActionType,
		Status:     req.Status,
		ActorID:    req.RequesterID,
		OccurredAt: now,
	})
	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		TraceID:    in.TraceID,
		ActorID:    in.RequesterID,
		EntityType: "approval_request",
		EntityID:   req.ID,
		Action:     "created",
		After:      map[string]interface{}{"code": req.Code, "status": string(req.Status), "strategy": string(req.Strategy)},
		Status:     "SUCCESS",
		Timestamp:  now,
	})

	s.logger.Info("approval request created",
		zap.String("code", req.Code),
		zap.String("action_type", req.ActionType),
		zap.String("strategy", string(resolution.Strategy)),
		zap.Int("quorum", resolution.Quorum),
		zap.Int("approvers", len(assignments)),
		zap.Bool("fellback", resolution.FellBack))

	// 4. SELF_APPROVAL: заявитель — единственный согласующий,
	// заявка авторазрешается тем же вызовом
	if resolution.AutoDecide {
		decided, err := s.Decide(ctx, req.ID, in.RequesterID, true, "auto-aprovacao por perfil", nil)
		if err != nil {
			// Заявка уже создана; возвращаем ее как есть, автоаппробацию
			// можно повторить обычным decide
			s.logger.Error("self-approval auto-decide failed", zap.String("code", req.Code), zap.Error(err))
			return req, nil
		}
		return decided, nil
	}

	return req, nil
}

// Decide фиксирует решение согласующего и пересчитывает статус заявки.
// Первое решение каждого согласующего побеждает; статус пересчитывается
// от полного набора назначений, а не от последней записи.
func (s *Service) Decide(ctx context.Context, requestID, approverID string, approved bool, justification string, attachments []string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusPending {
		return nil, domain.ErrRequestNotPending
	}

	// Self-approval gate: заявитель решает по собственной заявке только
	// под стратегией SELF_APPROVAL
	if approverID == req.RequesterID && req.Strategy != domain.StrategySelfApproval {
		return nil, domain.ErrSelfApprovalNotAllowed
	}

	decision := domain.DecisionRejected
	if approved {
		decision = domain.DecisionApproved
	}

	// Атомарная запись решения: WHERE decision = 'UNDECIDED' AND заявка PENDING.
	// Две параллельные записи разных согласующих проходят обе; повторная
	// запись того же согласующего — нет.
	recorded, err := s.repo.RecordDecision(ctx, requestID, approverID, decision, justification, attachments)
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	if !recorded {
		assignment, aerr := s.repo.GetAssignment(ctx, requestID, approverID)
		if aerr != nil {
			return nil, aerr
		}
		switch {
		case assignment == nil || !assignment.Active:
			return nil, domain.ErrNotAnApprover
		case assignment.Decision != domain.DecisionUndecided:
			return nil, domain.ErrAlreadyDecided
		default:
			// Назначение цело, но заявка уже ушла из PENDING
			return nil, domain.ErrRequestNotPending
		}
	}

	// Пересчет от полного набора: побеждает последний пересчет, не последний писатель
	assignments, err := s.repo.ListAssignments(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	approvals, rejections := domain.TallyDecisions(assignments)

	var target domain.RequestStatus
	switch {
	case rejections > 0:
		// Один отказ решает заявку независимо от остальных
		target = domain.StatusRejected
	case approvals >= req.Quorum:
		target = domain.StatusApproved
	default:
		// Кворум не собран — остаемся PENDING
		s.recordDecisionAudit(ctx, req, approverID, decision, "PENDING")
		return s.repo.GetByID(ctx, requestID)
	}

	// Единственная точка сериализации: только одно решение «дожимает» переход
	won, err := s.repo.Transition(ctx, requestID, domain.StatusPending, target)
	if err != nil {
		return nil, fmt.Errorf("status transition: %w", err)
	}
	if won {
		s.bus.Publish(ctx, domain.RequestEvent{
			Kind:       domain.EventRequestDecided,
			RequestID:  req.ID,
			Code:       req.Code,
			ActionType: req.ActionType,
			Status:     target,
			ActorID:    approverID,
		})
		if target == domain.StatusApproved {
			// Ровно один Schedule на каждый переход в APPROVED.
			// Сбои пайплайна сюда не возвращаются и решение не блокируют.
			s.scheduler.Schedule(ctx, requestID)
		}
	}

	s.recordDecisionAudit(ctx, req, approverID, decision, string(target))
	return s.repo.GetByID(ctx, requestID)
}

// Cancel — только сам заявитель и только пока заявка PENDING
func (s *Service) Cancel(ctx context.Context, requestID, requesterID string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	if req.RequesterID != requesterID {
		return nil, domain.ErrNotRequester
	}
	if req.Status != domain.StatusPending {
		return nil, domain.ErrRequestNotPending
	}

	won, err := s.repo.Transition(ctx, requestID, domain.StatusPending, domain.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel transition: %w", err)
	}
	if !won {
		// Пока заявитель жал кнопку, кто-то успел решить заявку
		return nil, domain.ErrRequestNotPending
	}

	s.bus.Publish(ctx, domain.RequestEvent{
		Kind:       domain.EventRequestCancelled,
		RequestID:  req.ID,
		Code:       req.Code,
		ActionType: req.ActionType,
		Status:     domain.StatusCancelled,
		ActorID:    requesterID,
	})
	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		ActorID:    requesterID,
		EntityType: "approval_request",
		EntityID:   req.ID,
		Action:     "cancelled",
		Before:     map[string]interface{}{"status": string(domain.StatusPending)},
		After:      map[string]interface{}{"status": string(domain.StatusCancelled)},
		Status:     "SUCCESS",
	})

	return s.repo.GetByID(ctx, requestID)
}

// Reprocess — административная операция для заявок в EXECUTION_ERROR:
// возвращает заявку в APPROVED и заново будит пайплайн исполнения
func (s *Service) Reprocess(ctx context.Context, requestID, actorID string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusExecutionError {
		return nil, domain.ErrAlreadyProcessed
	}

	won, err := s.repo.Transition(ctx, requestID, domain.StatusExecutionError, domain.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("reprocess transition: %w", err)
	}
	if won {
		s.scheduler.Schedule(ctx, requestID)
		s.auditor.Record(audit.Event{
			ID:         uuid.New().String(),
			ActorID:    actorID,
			EntityType: "approval_request",
			EntityID:   requestID,
			Action:     "reprocessed",
			Status:     "SUCCESS",
		})
		s.logger.Info("execution reprocess scheduled",
			zap.String("request_id", requestID),
			zap.String("actor_id", actorID))
	}

	return s.repo.GetByID(ctx, requestID)
}

func (s *Service) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

func (s *Service) FindByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

func (s *Service) ListRequests(ctx context.Context, filter ListFilter) ([]*domain.ApprovalRequest, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) ListAssignments(ctx context.Context, requestID string) ([]domain.ApproverAssignment, error) {
	return s.repo.ListAssignments(ctx, requestID)
}

func (s *Service) recordDecisionAudit(ctx context.Context, req *domain.ApprovalRequest, approverID string, decision domain.Decision, outcome string) {
	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		ActorID:    approverID,
		EntityType: "approval_request",
		EntityID:   req.ID,
		Action:     "decided",
		Before:     map[string]interface{}{"status": string(domain.StatusPending)},
		After:      map[string]interface{}{"decision": string(decision), "status": outcome},
		Status:     "SUCCESS",
	})
}
