package postgres

/*
Файл directory_repo.go реализует справочник пользователей и прав
(directory.Provider). Движок согласования не владеет этими данными,
он только читает проекцию: профиль, сектор, набор permissions.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, email, password_hash, profile, sector, status, scopes, created_at, updated_at`

func (r *Repo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := r.scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("directory: user %s not found", id)
	}
	return u, nil
}

// GetUserByUsername используется потоком аутентификации консоли.
// Возвращает nil без ошибки, если пользователя нет (401 решает хендлер).
func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, username))
}

// FindUsersBySector — первая половина выборки SECTOR_ESCALATION
func (r *Repo) FindUsersBySector(ctx context.Context, sectors []string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE sector = ANY($1) AND status = 'ACTIVE'`
	return r.queryUsers(ctx, query, sectors)
}

// FindUsersByPermission — вторая половина: держатели permission
func (r *Repo) FindUsersByPermission(ctx context.Context, permissions []string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u
		WHERE u.status = 'ACTIVE' AND EXISTS (
			SELECT 1 FROM user_permissions p
			WHERE p.user_id = u.id AND p.permission = ANY($1))`
	return r.queryUsers(ctx, query, permissions)
}

func (r *Repo) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_permissions
			WHERE user_id = $1 AND permission = $2)`,
		userID, permission).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("directory: permission check: %w", err)
	}
	return exists, nil
}

// HasAnyGeneralCapability — проверка общих грантов автоаппробации на шлюзе
func (r *Repo) HasAnyGeneralCapability(ctx context.Context, userID string, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_permissions
			WHERE user_id = $1 AND permission = ANY($2))`,
		userID, names).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("directory: capability check: %w", err)
	}
	return exists, nil
}

func (r *Repo) queryUsers(ctx context.Context, query string, arg interface{}) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("directory: query users: %w", err)
	}
	defer rows.Close()

	results := make([]domain.User, 0)
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: rows iteration error: %w", err)
	}
	return results, nil
}

func (r *Repo) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u      domain.User
		scopes []byte
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Profile, &u.Sector,
		&u.Status, &scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: scan user: %w", err)
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &u.Scopes); err != nil {
			return nil, fmt.Errorf("directory: unmarshal scopes: %w", err)
		}
	}
	return &u, nil
}
