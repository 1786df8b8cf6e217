package domain

import "time"

// Decision — три состояния решения согласующего
type Decision string

const (
	DecisionUndecided Decision = "UNDECIDED"
	DecisionApproved  Decision = "APPROVED"
	DecisionRejected  Decision = "REJECTED"
)

// ApproverAssignment — связка «заявка — пользователь, который вправе решать».
// Создается пачкой при создании заявки. Каждая строка мутирует ровно один раз:
// первое решение побеждает, повторное — конфликт.
type ApproverAssignment struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`

	Decision      Decision   `json:"decision"`
	Justification *string    `json:"justification,omitempty"`
	Attachments   []string   `json:"attachments,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`

	// Строка может быть мягко снята (active=false), физически не удаляется
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// TallyDecisions считает решения по полному набору активных назначений.
// Пересчет всегда идет от полного набора, а не от последней записи —
// так параллельные решения разных согласующих не теряются.
func TallyDecisions(assignments []ApproverAssignment) (approvals, rejections int) {
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		switch a.Decision {
		case DecisionApproved:
			approvals++
		case DecisionRejected:
			rejections++
		}
	}
	return approvals, rejections
}
