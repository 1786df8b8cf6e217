package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eudresfs/pgben-approval-engine/internal/audit"
)

// WriteBatch сохраняет пачку событий аудиторского следа одним запросом.
// Вызывается только асинхронным воркером Trail, не горячим путем.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		before, _ := json.Marshal(e.Before)
		after, _ := json.Marshal(e.After)

		vals = append(vals,
			e.ID, e.TraceID, e.ActorID, e.EntityType, e.EntityID, e.Action,
			before, after, e.Status, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		`INSERT INTO audit_logs (id, trace_id, actor_id, entity_type, entity_id, action, before, after, status, error, duration_ms, timestamp) VALUES %s`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
