package domain

import (
	"errors"
	"time"
)

// Статусы State Machine заявки на подтверждение
type RequestStatus string

const (
	StatusPending        RequestStatus = "PENDING"
	StatusApproved       RequestStatus = "APPROVED"
	StatusRejected       RequestStatus = "REJECTED"
	StatusCancelled      RequestStatus = "CANCELLED"
	StatusExecuted       RequestStatus = "EXECUTED"
	StatusExecutionError RequestStatus = "EXECUTION_ERROR"
)

// IsOpen — заявка «открыта», пока решение не принято или исполнение не завершено.
// Именно на этих статусах работает Duplicate-Request Guard.
func (s RequestStatus) IsOpen() bool {
	return s == StatusPending || s == StatusApproved
}

// IsTerminal — из этих статусов переходов больше нет
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusExecuted, StatusExecutionError:
		return true
	}
	return false
}

// ApprovalRequest — одна заявка на выполнение критического действия.
// Никогда не удаляется, только переводится в терминальный статус.
type ApprovalRequest struct {
	ID     string        `json:"id"`
	Code   string        `json:"code"` // Человекочитаемый код SOL-..., уникальный
	Status RequestStatus `json:"status"`

	ActionType    string `json:"action_type"`
	RequesterID   string `json:"requester_id"`
	Justification string `json:"justification"`

	// Перехваченный контекст действия. Движок его не интерпретирует,
	// кроме извлечения идентификатора целевого объекта для дедупликации.
	Payload         ActionPayload `json:"payload"`
	ExecutionMethod string        `json:"execution_method,omitempty"`

	// Ключ дедупликации: item id из payload, либо тип действия (фиксируется при создании)
	TargetKey string `json:"target_key"`

	// Параметры стратегии, замороженные на момент создания
	Strategy ApprovalStrategy `json:"strategy"`
	Quorum   int              `json:"quorum"`

	Deadline    *time.Time `json:"deadline,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`

	// Результат отложенного исполнения
	ExecutionSummary *ExecutionSummary `json:"execution_summary,omitempty"`
	ErrorMessage     *string           `json:"error_message,omitempty"` // Заполняется только при EXECUTION_ERROR

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// ExecutionSummary — нормализованная сводка исполнения (пишется при успехе)
type ExecutionSummary struct {
	Method     string    `json:"method"`
	Target     string    `json:"target"`
	Result     string    `json:"result,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

var (
	ErrInvalidTransition = errors.New("invalid request status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// CanTransitionTo проверяет правила конечного автомата.
// PENDING -> {APPROVED, REJECTED, CANCELLED}; APPROVED -> {EXECUTED, EXECUTION_ERROR}.
func (r *ApprovalRequest) CanTransitionTo(next RequestStatus) error {
	switch r.Status {
	case StatusPending:
		if next == StatusApproved || next == StatusRejected || next == StatusCancelled {
			return nil
		}
	case StatusApproved:
		if next == StatusExecuted || next == StatusExecutionError {
			return nil
		}
	default:
		return ErrAlreadyProcessed
	}
	return ErrInvalidTransition
}
