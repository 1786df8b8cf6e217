package postgres

import (
	"context"
	"fmt"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
)

// GetGlobalStats собирает агрегаты для дашборда консоли
func (r *Repo) GetGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	stats := &domain.GlobalStats{TopActionTypes: make(map[string]int64)}

	// 1. Срез по статусам одним проходом
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status = 'EXECUTED'),
			COUNT(*) FILTER (WHERE status = 'EXECUTION_ERROR')
		FROM approval_requests`).Scan(
		&stats.PendingRequests,
		&stats.ApprovedRequests,
		&stats.RejectedRequests,
		&stats.ExecutedRequests,
		&stats.ExecutionFailures,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: status counters: %w", err)
	}

	// 2. Честный P95 времени от создания до решения за последние сутки.
	// PERCENTILE_CONT вместо среднего: среднее маскирует хвост.
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(
			PERCENTILE_CONT(0.95) WITHIN GROUP (
				ORDER BY EXTRACT(EPOCH FROM decided_at - created_at)), 0)
		FROM approval_requests
		WHERE decided_at IS NOT NULL
		  AND created_at > NOW() - INTERVAL '24 hours'`).Scan(&stats.P95DecisionSeconds)
	if err != nil {
		return nil, fmt.Errorf("postgres: p95 decision time: %w", err)
	}

	// 3. Топ типов действий по объему заявок
	rows, err := r.pool.Query(ctx, `
		SELECT action_type, COUNT(*)
		FROM approval_requests
		GROUP BY action_type
		ORDER BY COUNT(*) DESC
		LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("postgres: top action types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			actionType string
			count      int64
		)
		if err := rows.Scan(&actionType, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan top action type: %w", err)
		}
		stats.TopActionTypes[actionType] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return stats, nil
}
