package postgres

/*
Файл config_repo.go отвечает за хранение конфигураций критических действий
и статического ростера согласующих. Конфигурации никогда не удаляются
жестко: только soft-delete, и только при отсутствии открытых заявок.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/jackc/pgx/v5"
)

const configColumns = `id, action_type, name, strategy, min_approvers,
	self_approval_profiles, sector, permission, active, created_at, updated_at, deleted_at`

// GetActionConfig — главный вопрос шлюза: «гейтится ли действие X».
// Возвращает (nil, nil), если активной конфигурации нет.
func (r *Repo) GetActionConfig(ctx context.Context, actionType string) (*domain.ActionConfiguration, error) {
	query := `SELECT ` + configColumns + `
		FROM action_configurations
		WHERE action_type = $1 AND deleted_at IS NULL`

	return r.scanConfig(r.pool.QueryRow(ctx, query, actionType))
}

func (r *Repo) GetActionConfigByID(ctx context.Context, id string) (*domain.ActionConfiguration, error) {
	query := `SELECT ` + configColumns + `
		FROM action_configurations
		WHERE id = $1 AND deleted_at IS NULL`

	return r.scanConfig(r.pool.QueryRow(ctx, query, id))
}

// ListActionConfigs — «холодная» выборка всех живых конфигураций для консоли
func (r *Repo) ListActionConfigs(ctx context.Context) ([]domain.ActionConfiguration, error) {
	query := `SELECT ` + configColumns + `
		FROM action_configurations
		WHERE deleted_at IS NULL
		ORDER BY action_type`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query configs: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ActionConfiguration, 0)
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *cfg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func (r *Repo) CreateActionConfig(ctx context.Context, cfg *domain.ActionConfiguration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO action_configurations
			(id, action_type, name, strategy, min_approvers,
			 self_approval_profiles, sector, permission, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		cfg.ID, cfg.ActionType, cfg.Name, cfg.Strategy, cfg.MinApprovers,
		cfg.SelfApprovalProfiles, cfg.Sector, cfg.Permission, cfg.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create action config: %w", err)
	}
	return nil
}

func (r *Repo) UpdateActionConfig(ctx context.Context, cfg *domain.ActionConfiguration) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE action_configurations
		SET name = $1,
		    strategy = $2,
		    min_approvers = $3,
		    self_approval_profiles = $4,
		    sector = $5,
		    permission = $6,
		    active = $7,
		    updated_at = NOW()
		WHERE id = $8 AND deleted_at IS NULL`,
		cfg.Name, cfg.Strategy, cfg.MinApprovers,
		cfg.SelfApprovalProfiles, cfg.Sector, cfg.Permission, cfg.Active, cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update action config: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: action config not found")
	}
	return nil
}

// DeleteActionConfig — soft-delete. Запрещен, пока по типу действия есть
// открытые заявки: их набор согласующих и кворум уже заморожены, но
// терять привязку к конфигурации нельзя.
func (r *Repo) DeleteActionConfig(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var actionType string
	err = tx.QueryRow(ctx,
		`SELECT action_type FROM action_configurations WHERE id = $1 AND deleted_at IS NULL`,
		id).Scan(&actionType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: action config not found")
		}
		return fmt.Errorf("postgres: load action config: %w", err)
	}

	var openCount int64
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM approval_requests
		WHERE action_type = $1 AND status IN ('PENDING', 'APPROVED')`,
		actionType).Scan(&openCount)
	if err != nil {
		return fmt.Errorf("postgres: count open requests: %w", err)
	}
	if openCount > 0 {
		return domain.ErrConfigInUse
	}

	_, err = tx.Exec(ctx, `
		UPDATE action_configurations
		SET active = FALSE, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete action config: %w", err)
	}

	return tx.Commit(ctx)
}

// ListRoster отдает статический ростер согласующих для типа действия.
// Используется Resolver'ом при создании каждой заявки.
func (r *Repo) ListRoster(ctx context.Context, actionType string) ([]domain.ApproverConfiguration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, action_type, user_id, active, created_at
		FROM approver_configurations
		WHERE action_type = $1
		ORDER BY created_at`, actionType)
	if err != nil {
		return nil, fmt.Errorf("postgres: query roster: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ApproverConfiguration, 0)
	for rows.Next() {
		var ac domain.ApproverConfiguration
		if err := rows.Scan(&ac.ID, &ac.ActionType, &ac.UserID, &ac.Active, &ac.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan roster row: %w", err)
		}
		results = append(results, ac)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// AddApprover добавляет пользователя в ростер (или реактивирует снятого)
func (r *Repo) AddApprover(ctx context.Context, ac *domain.ApproverConfiguration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO approver_configurations (id, action_type, user_id, active, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())
		ON CONFLICT (action_type, user_id)
		DO UPDATE SET active = TRUE`,
		ac.ID, ac.ActionType, ac.UserID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to add approver: %w", err)
	}
	return nil
}

// RemoveApprover мягко снимает пользователя с ростера. Уже замороженные
// назначения в открытых заявках не трогаются.
func (r *Repo) RemoveApprover(ctx context.Context, actionType, userID string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE approver_configurations
		SET active = FALSE
		WHERE action_type = $1 AND user_id = $2 AND active`,
		actionType, userID)
	if err != nil {
		return fmt.Errorf("postgres: failed to remove approver: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: roster entry not found")
	}
	return nil
}

func (r *Repo) scanConfig(row pgx.Row) (*domain.ActionConfiguration, error) {
	var (
		cfg    domain.ActionConfiguration
		sector *string
		perm   *string
	)

	err := row.Scan(
		&cfg.ID, &cfg.ActionType, &cfg.Name, &cfg.Strategy, &cfg.MinApprovers,
		&cfg.SelfApprovalProfiles, &sector, &perm, &cfg.Active,
		&cfg.CreatedAt, &cfg.UpdatedAt, &cfg.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan action config: %w", err)
	}

	if sector != nil {
		cfg.Sector = *sector
	}
	if perm != nil {
		cfg.Permission = *perm
	}
	return &cfg, nil
}
