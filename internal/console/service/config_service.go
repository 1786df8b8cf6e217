package service

import (
	"context"

	"github.com/eudresfs/pgben-approval-engine/internal/audit"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/google/uuid"
)

// ConfigRepository описывает требования сервиса к хранилищу конфигураций
type ConfigRepository interface {
	GetActionConfigByID(ctx context.Context, id string) (*domain.ActionConfiguration, error)
	ListActionConfigs(ctx context.Context) ([]domain.ActionConfiguration, error)
	CreateActionConfig(ctx context.Context, cfg *domain.ActionConfiguration) error
	UpdateActionConfig(ctx context.Context, cfg *domain.ActionConfiguration) error
	DeleteActionConfig(ctx context.Context, id string) error

	ListRoster(ctx context.Context, actionType string) ([]domain.ApproverConfiguration, error)
	AddApprover(ctx context.Context, ac *domain.ApproverConfiguration) error
	RemoveApprover(ctx context.Context, actionType, userID string) error
}

// ConfigInvalidator транслирует шлюзам сигнал сброса кэша конфигураций
type ConfigInvalidator interface {
	InvalidateConfig(ctx context.Context, actionType string)
}

// ConfigService — администрирование конфигураций действий и ростера.
// Любая мутация завершается сигналом инвалидации: TTL-кэш шлюзов должен
// узнать об изменении раньше, чем истечет его запись.
type ConfigService struct {
	repo    ConfigRepository
	bus     ConfigInvalidator
	auditor audit.Recorder
}

func NewConfigService(repo ConfigRepository, bus ConfigInvalidator, auditor audit.Recorder) *ConfigService {
	return &ConfigService{
		repo:    repo,
		bus:     bus,
		auditor: auditor,
	}
}

func (s *ConfigService) GetByID(ctx context.Context, id string) (*domain.ActionConfiguration, error) {
	return s.repo.GetActionConfigByID(ctx, id)
}

func (s *ConfigService) GetAll(ctx context.Context) ([]domain.ActionConfiguration, error) {
	return s.repo.ListActionConfigs(ctx)
}

func (s *ConfigService) Create(ctx context.Context, cfg *domain.ActionConfiguration, actorID string) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.StrategySimple
	}

	if err := s.repo.CreateActionConfig(ctx, cfg); err != nil {
		return err
	}

	s.bus.InvalidateConfig(ctx, cfg.ActionType)
	s.recordAudit(actorID, cfg, "config_created")
	return nil
}

func (s *ConfigService) Update(ctx context.Context, cfg *domain.ActionConfiguration, actorID string) error {
	if err := s.repo.UpdateActionConfig(ctx, cfg); err != nil {
		return err
	}

	s.bus.InvalidateConfig(ctx, cfg.ActionType)
	s.recordAudit(actorID, cfg, "config_updated")
	return nil
}

// Delete — soft-delete. Репозиторий вернет ErrConfigInUse, если по типу
// действия остались открытые заявки.
func (s *ConfigService) Delete(ctx context.Context, id, actorID string) error {
	cfg, err := s.repo.GetActionConfigByID(ctx, id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return domain.ErrUnknownActionType
	}

	if err := s.repo.DeleteActionConfig(ctx, id); err != nil {
		return err
	}

	s.bus.InvalidateConfig(ctx, cfg.ActionType)
	s.recordAudit(actorID, cfg, "config_deleted")
	return nil
}

func (s *ConfigService) ListRoster(ctx context.Context, actionType string) ([]domain.ApproverConfiguration, error) {
	return s.repo.ListRoster(ctx, actionType)
}

func (s *ConfigService) AddApprover(ctx context.Context, actionType, userID, actorID string) error {
	ac := &domain.ApproverConfiguration{
		ID:         uuid.New().String(),
		ActionType: actionType,
		UserID:     userID,
		Active:     true,
	}
	if err := s.repo.AddApprover(ctx, ac); err != nil {
		return err
	}

	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		EntityType: "approver_roster",
		EntityID:   actionType,
		Action:     "approver_added",
		After:      map[string]interface{}{"user_id": userID},
		Status:     "SUCCESS",
	})
	return nil
}

// RemoveApprover снимает пользователя с ростера. Назначения в уже открытых
// заявках заморожены и не трогаются.
func (s *ConfigService) RemoveApprover(ctx context.Context, actionType, userID, actorID string) error {
	if err := s.repo.RemoveApprover(ctx, actionType, userID); err != nil {
		return err
	}

	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		EntityType: "approver_roster",
		EntityID:   actionType,
		Action:     "approver_removed",
		Before:     map[string]interface{}{"user_id": userID},
		Status:     "SUCCESS",
	})
	return nil
}

func (s *ConfigService) recordAudit(actorID string, cfg *domain.ActionConfiguration, action string) {
	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		EntityType: "action_configuration",
		EntityID:   cfg.ID,
		Action:     action,
		After: map[string]interface{}{
			"action_type": cfg.ActionType,
			"strategy":    string(cfg.Strategy),
			"active":      cfg.Active,
		},
		Status: "SUCCESS",
	})
}
