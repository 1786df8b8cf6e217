package domain

// GlobalStats — агрегаты для дашборда консоли (Decision Queue)
type GlobalStats struct {
	PendingRequests   int64            `json:"pending_requests"`
	ApprovedRequests  int64            `json:"approved_requests"`
	RejectedRequests  int64            `json:"rejected_requests"`
	ExecutedRequests  int64            `json:"executed_requests"`
	ExecutionFailures int64            `json:"execution_failures"`
	TopActionTypes    map[string]int64 `json:"top_action_types"`

	// Честный P95 времени от создания до решения, в секундах
	P95DecisionSeconds float64 `json:"p95_decision_seconds"`
}
