package domain

import "time"

// EventKind — топики шины событий. Слушатели (нотификации, метрики) —
// внешние коллабораторы, ядро их результат не наблюдает.
type EventKind string

const (
	EventRequestCreated   EventKind = "request.created"
	EventRequestDecided   EventKind = "request.decided"
	EventRequestExecuted  EventKind = "request.executed"
	EventRequestCancelled EventKind = "request.cancelled"
)

// RequestEvent — полезная нагрузка события жизненного цикла заявки
type RequestEvent struct {
	Kind       EventKind     `json:"kind"`
	RequestID  string        `json:"request_id"`
	Code       string        `json:"code"`
	ActionType string        `json:"action_type"`
	Status     RequestStatus `json:"status"`
	ActorID    string        `json:"actor_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
