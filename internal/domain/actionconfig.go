package domain

import (
	"strings"
	"time"
)

// ApprovalStrategy определяет, кто и в каком количестве должен согласовать действие
type ApprovalStrategy string

const (
	// StrategySimple — фиксированный ростер + порог min_aprovadores
	StrategySimple ApprovalStrategy = "SIMPLE"
	// StrategyMajority — тот же ростер, кворум «больше половины» (размер фиксируется при создании заявки)
	StrategyMajority ApprovalStrategy = "MAJORITY"
	// StrategySectorEscalation — пересечение «пользователи сектора» и «держатели permission»
	StrategySectorEscalation ApprovalStrategy = "SECTOR_ESCALATION"
	// StrategySelfApproval — заявитель согласует сам, если его профиль входит в разрешенные
	StrategySelfApproval ApprovalStrategy = "SELF_APPROVAL"
)

// ActionConfiguration описывает один тип критического действия.
// Создается администраторами; никогда не удаляется жестко (только soft-delete).
type ActionConfiguration struct {
	ID         string `json:"id"`
	ActionType string `json:"action_type"` // Напр. "beneficio.cancelar" или "pagamento.alterar"
	Name       string `json:"name"`

	Strategy     ApprovalStrategy `json:"strategy"`
	MinApprovers int              `json:"min_aprovadores"`

	// Профили, которым разрешена автоаппробация (для SELF_APPROVAL)
	SelfApprovalProfiles []string `json:"perfis_autoaprovacao,omitempty"`

	// Пара сектор/permission для SECTOR_ESCALATION
	Sector     string `json:"sector,omitempty"`
	Permission string `json:"permission,omitempty"`

	Active bool `json:"active"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AllowsSelfApproval — профиль сравнивается без учета регистра (GESTOR == gestor)
func (c *ActionConfiguration) AllowsSelfApproval(profile string) bool {
	if c == nil || profile == "" {
		return false
	}
	for _, p := range c.SelfApprovalProfiles {
		if strings.EqualFold(p, profile) {
			return true
		}
	}
	return false
}

// SectorConfigured — конфигурация эскалации полна, только если заданы обе половины пары
func (c *ActionConfiguration) SectorConfigured() bool {
	return c != nil && c.Sector != "" && c.Permission != ""
}

// ApproverConfiguration — статический ростер: пользователь -> тип действия.
// Ведется администраторами независимо от заявок.
type ApproverConfiguration struct {
	ID         string    `json:"id"`
	ActionType string    `json:"action_type"`
	UserID     string    `json:"user_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
