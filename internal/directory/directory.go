package directory

import (
	"context"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
)

// Provider — внешний справочник пользователей и прав. Движок согласования
// не вычисляет права сам, он только потребляет эти методы. На критическом
// пути шлюза недоступность справочника трактуется как fail-closed.
type Provider interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// Выборки для стратегии SECTOR_ESCALATION
	FindUsersBySector(ctx context.Context, sectors []string) ([]domain.User, error)
	FindUsersByPermission(ctx context.Context, permissions []string) ([]domain.User, error)

	HasPermission(ctx context.Context, userID, permission string) (bool, error)

	// HasAnyGeneralCapability — общий грант «автоаппробации» (например, admin)
	HasAnyGeneralCapability(ctx context.Context, userID string, names []string) (bool, error)
}
