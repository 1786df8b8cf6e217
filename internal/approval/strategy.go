package approval

import (
	"context"

	"github.com/eudresfs/pgben-approval-engine/internal/directory"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"go.uber.org/zap"
)

// RosterProvider отдает статический ростер согласующих для типа действия
type RosterProvider interface {
	ListRoster(ctx context.Context, actionType string) ([]domain.ApproverConfiguration, error)
}

// Resolution — результат разрешения стратегии. Набор согласующих и кворум
// замораживаются в момент создания заявки и дальше не пересчитываются,
// даже если конфигурация или ростер изменятся.
type Resolution struct {
	Strategy  domain.ApprovalStrategy
	Approvers []string // ID пользователей, дедуплицированы
	Quorum    int

	// AutoDecide: заявитель — единственный согласующий (SELF_APPROVAL),
	// заявка авторазрешается сразу после создания
	AutoDecide bool

	// FellBack: исходная стратегия деградировала до SIMPLE
	FellBack bool
}

// Resolver выбирает одну из четырех стратегий по конфигурации действия.
// Никогда не роняет создание заявки из-за неполной конфигурации —
// деградирует до SIMPLE и логирует это.
type Resolver struct {
	roster    RosterProvider
	directory directory.Provider
	logger    *zap.Logger
}

func NewResolver(roster RosterProvider, dir directory.Provider, logger *zap.Logger) *Resolver {
	return &Resolver{
		roster:    roster,
		directory: dir,
		logger:    logger.Named("strategy-resolver"),
	}
}

// Resolve выполняется один раз, при создании заявки.
// requester может быть nil, если справочник был недоступен — тогда
// SELF_APPROVAL деградирует до SIMPLE (профиль проверить нечем).
func (r *Resolver) Resolve(ctx context.Context, cfg *domain.ActionConfiguration, requester *domain.User) (*Resolution, error) {
	switch cfg.Strategy {
	case domain.StrategySelfApproval:
		if requester != nil && cfg.AllowsSelfApproval(requester.Profile) {
			return &Resolution{
				Strategy:   domain.StrategySelfApproval,
				Approvers:  []string{requester.ID},
				Quorum:     1,
				AutoDecide: true,
			}, nil
		}
		r.logger.Info("self-approval profile mismatch, falling back to simple strategy",
			zap.String("action_type", cfg.ActionType))
		return r.resolveSimple(ctx, cfg, true)

	case domain.StrategySectorEscalation:
		res, ok := r.resolveSector(ctx, cfg)
		if ok {
			return res, nil
		}
		// Причина уже залогирована внутри resolveSector
		return r.resolveSimple(ctx, cfg, true)

	case domain.StrategyMajority:
		res, err := r.resolveSimple(ctx, cfg, false)
		if err != nil {
			return nil, err
		}
		res.Strategy = domain.StrategyMajority
		// Кворум «больше половины» от размера ростера на момент создания
		res.Quorum = len(res.Approvers)/2 + 1
		return res, nil

	default:
		return r.resolveSimple(ctx, cfg, false)
	}
}

// resolveSimple — базовая стратегия и цель всех деградаций:
// активный ростер + порог min_aprovadores.
func (r *Resolver) resolveSimple(ctx context.Context, cfg *domain.ActionConfiguration, fellBack bool) (*Resolution, error) {
	rows, err := r.roster.ListRoster(ctx, cfg.ActionType)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	approvers := make([]string, 0, len(rows))
	for _, row := range rows {
		if !row.Active {
			continue
		}
		if _, dup := seen[row.UserID]; dup {
			continue
		}
		seen[row.UserID] = struct{}{}
		approvers = append(approvers, row.UserID)
	}

	if len(approvers) == 0 {
		return nil, domain.ErrNoApproversResolved
	}

	// Кворум зажимается в [1, len(approvers)], иначе заявку
	// физически невозможно было бы согласовать
	quorum := cfg.MinApprovers
	if quorum < 1 {
		quorum = 1
	}
	if quorum > len(approvers) {
		quorum = len(approvers)
	}

	return &Resolution{
		Strategy:  domain.StrategySimple,
		Approvers: approvers,
		Quorum:    quorum,
		FellBack:  fellBack,
	}, nil
}

// resolveSector — пересечение «пользователи сектора» и «держатели permission».
// Любая неполнота (конфигурация, пустая выборка, сбой справочника) — это
// сигнал к деградации, а не к отказу в создании заявки.
func (r *Resolver) resolveSector(ctx context.Context, cfg *domain.ActionConfiguration) (*Resolution, bool) {
	if !cfg.SectorConfigured() {
		r.logger.Warn("sector escalation config incomplete, falling back to simple strategy",
			zap.String("action_type", cfg.ActionType))
		return nil, false
	}

	bySector, err := r.directory.FindUsersBySector(ctx, []string{cfg.Sector})
	if err != nil {
		r.logger.Warn("sector lookup failed, falling back to simple strategy",
			zap.String("sector", cfg.Sector), zap.Error(err))
		return nil, false
	}
	byPermission, err := r.directory.FindUsersByPermission(ctx, []string{cfg.Permission})
	if err != nil {
		r.logger.Warn("permission lookup failed, falling back to simple strategy",
			zap.String("permission", cfg.Permission), zap.Error(err))
		return nil, false
	}

	holders := make(map[string]struct{}, len(byPermission))
	for _, u := range byPermission {
		holders[u.ID] = struct{}{}
	}

	approvers := make([]string, 0, len(bySector))
	seen := make(map[string]struct{}, len(bySector))
	for _, u := range bySector {
		if !u.IsActive() {
			continue
		}
		if _, ok := holders[u.ID]; !ok {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		approvers = append(approvers, u.ID)
	}

	if len(approvers) == 0 {
		r.logger.Warn("sector/permission intersection is empty, falling back to simple strategy",
			zap.String("sector", cfg.Sector),
			zap.String("permission", cfg.Permission))
		return nil, false
	}

	quorum := cfg.MinApprovers
	if quorum < 1 {
		quorum = 1
	}
	if quorum > len(approvers) {
		quorum = len(approvers)
	}

	return &Resolution{
		Strategy:  domain.StrategySectorEscalation,
		Approvers: approvers,
		Quorum:    quorum,
	}, true
}
