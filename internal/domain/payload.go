package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionPayload — перехваченный контекст вызова критического действия.
// Для движка это непрозрачный блоб: мы храним и реплеим его как есть.
// Единственное, что движок вправе извлечь — идентификатор целевого объекта
// для Duplicate-Request Guard.
type ActionPayload struct {
	Method string          `json:"method"`           // HTTP-метод исходного вызова
	Target string          `json:"target"`           // URL доменного коллаборатора
	Params map[string]any  `json:"params,omitempty"` // Path/query параметры
	Body   json.RawMessage `json:"body,omitempty"`   // Тело запроса, не интерпретируется
}

// Ключи, под которыми обычно лежит идентификатор целевого объекта
var itemIDKeys = []string{"id", "item_id", "itemId", "solicitacao_id", "beneficio_id"}

// ItemID извлекает идентификатор целевого объекта из параметров, если он там есть.
// Больше ничего из payload движок не разбирает.
func (p ActionPayload) ItemID() (string, bool) {
	for _, key := range itemIDKeys {
		if raw, ok := p.Params[key]; ok {
			switch v := raw.(type) {
			case string:
				if v != "" {
					return v, true
				}
			case float64:
				// Числа из JSON приходят как float64
				return strings.TrimSuffix(fmt.Sprintf("%v", v), ".0"), true
			}
		}
	}
	return "", false
}

// TargetKey — ключ уникальности открытой заявки: item id из payload,
// либо тип действия, когда целевой объект не идентифицирован.
func (p ActionPayload) TargetKey(actionType string) string {
	if id, ok := p.ItemID(); ok {
		return actionType + ":" + id
	}
	return actionType
}
