package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок движка. Validation/Authorization/Conflict отклоняются
// синхронно; ошибки исполнения никогда не возвращаются согласующему —
// они фиксируются на самой заявке (EXECUTION_ERROR).
var (
	// Validation
	ErrUnknownActionType = errors.New("unknown or inactive action type")
	ErrRequestNotFound   = errors.New("approval request not found")
	ErrEmptyRequester    = errors.New("requester id is required")
	// Ни ростер, ни деградация не дали ни одного согласующего —
	// такую заявку физически некому было бы решить
	ErrNoApproversResolved = errors.New("no eligible approvers resolved for action type")

	// Conflict
	ErrRequestNotPending = errors.New("approval request is not pending")
	ErrAlreadyDecided    = errors.New("approver has already decided on this request")
	ErrConfigInUse       = errors.New("action configuration still has open requests")

	// Authorization
	ErrNotAnApprover          = errors.New("user is not an assigned approver of this request")
	ErrSelfApprovalNotAllowed = errors.New("self-approval is not allowed for this request")
	ErrNotRequester           = errors.New("only the original requester may cancel the request")

	// Dependency — на критическом пути шлюза трактуется как fail-closed
	ErrDependencyUnavailable = errors.New("required dependency is unavailable")
)

// DuplicateOpenRequestError — по целевому объекту уже есть открытая заявка.
// Вызвавшему всегда отдается ссылка на существующую заявку, никаких тихих отказов.
type DuplicateOpenRequestError struct {
	RequestID string
	Code      string
}

func (e *DuplicateOpenRequestError) Error() string {
	return fmt.Sprintf("open approval request already exists for this target (code: %s)", e.Code)
}

// IsConflict — свертка конфликтной ветки таксономии для HTTP-маппинга
func IsConflict(err error) bool {
	var dup *DuplicateOpenRequestError
	return errors.Is(err, ErrRequestNotPending) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrConfigInUse) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.As(err, &dup)
}

// IsAuthorization — авторизационная ветка таксономии
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrNotAnApprover) ||
		errors.Is(err, ErrSelfApprovalNotAllowed) ||
		errors.Is(err, ErrNotRequester)
}
