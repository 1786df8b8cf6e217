package domain

import "time"

// UserStatus — статус учетной записи в справочнике пользователей
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
)

// User — проекция пользователя из внешнего справочника.
// Движок не владеет пользователями, только ссылается на них.
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Profile      string          `json:"profile"` // Напр. GESTOR, TECNICO
	Sector       string          `json:"sector"`
	Status       UserStatus      `json:"status"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == UserActive
}
