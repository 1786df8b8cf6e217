package audit

import "time"

// Event — одна запись аудиторского следа движка согласования.
// Пишется по принципу fire-and-forget: сбой записи никогда не влияет
// на транзакцию решения.
type Event struct {
	ID      string `json:"id"`       // UUID события
	TraceID string `json:"trace_id"` // Сквозной ID запроса
	ActorID string `json:"actor_id"` // Кто действовал

	EntityType string `json:"entity_type"` // "approval_request", "action_configuration"
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"` // "created", "decided", "executed", "cancelled"...

	// Снимки состояния до/после мутации
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`

	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
