package postgres

/*
Файл request_repo.go реализует хранение заявок на согласование и назначений.

Два инварианта обеспечиваются на этом уровне:
- Duplicate Guard: частичный уникальный индекс на target_key по открытым
  статусам. Проигравший гонку INSERT получает 23505, наверх это уходит
  как approval.ErrDuplicateTarget.
- First-Decision-Wins / Single-Transition: условные UPDATE с WHERE по
  текущему состоянию. RowsAffected() == 0 означает «гонку выиграл другой».
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eudresfs/pgben-approval-engine/internal/approval"
	"github.com/eudresfs/pgben-approval-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const requestColumns = `id, code, status, action_type, requester_id, justification,
	payload, execution_method, target_key, strategy, quorum, deadline, attachments,
	execution_summary, error_message, created_at, updated_at, decided_at, executed_at`

// textArray нормализует nil в пустой массив: pgx кодирует nil-слайс как
// SQL NULL, а колонки attachments объявлены NOT NULL DEFAULT '{}'
func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Insert атомарно сохраняет заявку вместе с назначениями в одной транзакции.
// Либо заявка появляется целиком (со всеми согласующими), либо не появляется вовсе.
func (r *Repo) Insert(ctx context.Context, req *domain.ApprovalRequest, assignments []domain.ApproverAssignment) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO approval_requests
			(id, code, status, action_type, requester_id, justification,
			 payload, execution_method, target_key, strategy, quorum, deadline, attachments,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.Code, req.Status, req.ActionType, req.RequesterID, req.Justification,
		payload, req.ExecutionMethod, req.TargetKey, req.Strategy, req.Quorum, req.Deadline, textArray(req.Attachments),
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Частичный уникальный индекс по открытым заявкам сработал:
			// по этой цели уже есть PENDING/APPROVED заявка
			return approval.ErrDuplicateTarget
		}
		return fmt.Errorf("postgres: insert request: %w", err)
	}

	for _, a := range assignments {
		_, err = tx.Exec(ctx, `
			INSERT INTO approver_assignments (id, request_id, user_id, decision, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.RequestID, a.UserID, a.Decision, a.Active, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert assignment: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`
	return r.scanRequest(r.pool.QueryRow(ctx, query, id))
}

func (r *Repo) GetByCode(ctx context.Context, code string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE code = $1`
	return r.scanRequest(r.pool.QueryRow(ctx, query, code))
}

// FindOpenByTargetKey — быстрая проверка дубликата. Открытых заявок на одну
// цель не бывает больше одной (это гарантирует индекс), поэтому LIMIT 1.
func (r *Repo) FindOpenByTargetKey(ctx context.Context, targetKey string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests
		WHERE target_key = $1 AND status IN ('PENDING', 'APPROVED')
		LIMIT 1`
	return r.scanRequest(r.pool.QueryRow(ctx, query, targetKey))
}

// List — очередь заявок с фильтрами и пагинацией (Decision Queue консоли)
func (r *Repo) List(ctx context.Context, filter approval.ListFilter) ([]*domain.ApprovalRequest, int64, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "r.status = "+arg(filter.Status))
	}
	if filter.ActionType != "" {
		conds = append(conds, "r.action_type = "+arg(filter.ActionType))
	}
	if filter.RequesterID != "" {
		conds = append(conds, "r.requester_id = "+arg(filter.RequesterID))
	}
	if filter.ApproverID != "" {
		// Очередь конкретного согласующего: только заявки, где у него
		// есть активное назначение
		conds = append(conds, `EXISTS (
			SELECT 1 FROM approver_assignments a
			WHERE a.request_id = r.id AND a.user_id = `+arg(filter.ApproverID)+` AND a.active)`)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM approval_requests r"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count requests: %w", err)
	}

	query := `SELECT ` + requestColumns +
		" FROM approval_requests r" + where +
		" ORDER BY r.created_at DESC LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: query requests: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, req)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, total, nil
}

func (r *Repo) ListAssignments(ctx context.Context, requestID string) ([]domain.ApproverAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, user_id, decision, justification, attachments, decided_at, active, created_at
		FROM approver_assignments
		WHERE request_id = $1
		ORDER BY created_at`, requestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query assignments: %w", err)
	}
	defer rows.Close()

	results := make([]domain.ApproverAssignment, 0)
	for rows.Next() {
		var a domain.ApproverAssignment
		if err := rows.Scan(&a.ID, &a.RequestID, &a.UserID, &a.Decision,
			&a.Justification, &a.Attachments, &a.DecidedAt, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan assignment: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func (r *Repo) GetAssignment(ctx context.Context, requestID, userID string) (*domain.ApproverAssignment, error) {
	var a domain.ApproverAssignment
	err := r.pool.QueryRow(ctx, `
		SELECT id, request_id, user_id, decision, justification, attachments, decided_at, active, created_at
		FROM approver_assignments
		WHERE request_id = $1 AND user_id = $2`, requestID, userID).
		Scan(&a.ID, &a.RequestID, &a.UserID, &a.Decision,
			&a.Justification, &a.Attachments, &a.DecidedAt, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get assignment: %w", err)
	}
	return &a, nil
}

// RecordDecision — защита от Double Decision одним атомарным UPDATE.
// Условие покрывает сразу три проверки: назначение существует и активно,
// согласующий еще не решал, заявка еще PENDING.
func (r *Repo) RecordDecision(ctx context.Context, requestID, userID string, decision domain.Decision, justification string, attachments []string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE approver_assignments
		SET decision = $1,
		    justification = $2,
		    attachments = $3,
		    decided_at = NOW()
		WHERE request_id = $4
		  AND user_id = $5
		  AND active
		  AND decision = 'UNDECIDED'
		  AND EXISTS (
		      SELECT 1 FROM approval_requests
		      WHERE id = $4 AND status = 'PENDING')`,
		decision, justification, textArray(attachments), requestID, userID)
	if err != nil {
		return false, fmt.Errorf("postgres: record decision: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Transition — условный перевод статуса (WHERE status = from).
// RowsAffected() == 0 значит, что переход уже сделал кто-то другой.
func (r *Repo) Transition(ctx context.Context, requestID string, from, to domain.RequestStatus) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status = $1,
		    updated_at = NOW(),
		    decided_at = CASE WHEN $1 IN ('APPROVED', 'REJECTED', 'CANCELLED') THEN NOW() ELSE decided_at END
		WHERE id = $2 AND status = $3`,
		to, requestID, from)
	if err != nil {
		return false, fmt.Errorf("postgres: transition: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkExecuted фиксирует успешное исполнение. Только из APPROVED.
func (r *Repo) MarkExecuted(ctx context.Context, id string, summary domain.ExecutionSummary) (bool, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal execution summary: %w", err)
	}

	ct, err := r.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status = 'EXECUTED',
		    execution_summary = $1,
		    executed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2 AND status = 'APPROVED'`,
		data, id)
	if err != nil {
		return false, fmt.Errorf("postgres: mark executed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkExecutionError фиксирует провал исполнения. Заявка остается
// доступной для ручного Reprocess.
func (r *Repo) MarkExecutionError(ctx context.Context, id string, errMsg string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status = 'EXECUTION_ERROR',
		    error_message = $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = 'APPROVED'`,
		errMsg, id)
	if err != nil {
		return false, fmt.Errorf("postgres: mark execution error: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListStuckApproved — заявки, зависшие в APPROVED дольше olderThan:
// Redis-сигнал потерялся или инстанс умер между решением и исполнением
func (r *Repo) ListStuckApproved(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM approval_requests
		WHERE status = 'APPROVED'
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("postgres: query stuck approved: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan stuck id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ids, nil
}

// scanRequest маппит одну строку в доменную структуру, разворачивая JSONB
// поля и NULL-able колонки
func (r *Repo) scanRequest(row pgx.Row) (*domain.ApprovalRequest, error) {
	var (
		req        domain.ApprovalRequest
		payload    []byte
		summary    []byte
		execMethod *string
		errMessage *string
	)

	err := row.Scan(
		&req.ID, &req.Code, &req.Status, &req.ActionType, &req.RequesterID, &req.Justification,
		&payload, &execMethod, &req.TargetKey, &req.Strategy, &req.Quorum, &req.Deadline, &req.Attachments,
		&summary, &errMessage, &req.CreatedAt, &req.UpdatedAt, &req.DecidedAt, &req.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // nil для 404 в вызывающем слое
		}
		return nil, fmt.Errorf("postgres: scan request: %w", err)
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal payload: %w", err)
		}
	}
	if len(summary) > 0 {
		var s domain.ExecutionSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal execution summary: %w", err)
		}
		req.ExecutionSummary = &s
	}
	if execMethod != nil {
		req.ExecutionMethod = *execMethod
	}
	req.ErrorMessage = errMessage

	return &req, nil
}
