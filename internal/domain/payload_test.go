package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemID(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
		found  bool
	}{
		{"обычный id", map[string]any{"id": "b-42"}, "b-42", true},
		{"item_id", map[string]any{"item_id": "i-1"}, "i-1", true},
		{"camelCase", map[string]any{"itemId": "i-2"}, "i-2", true},
		{"solicitacao_id", map[string]any{"solicitacao_id": "s-3"}, "s-3", true},
		{"beneficio_id", map[string]any{"beneficio_id": "b-4"}, "b-4", true},
		{"число из JSON приходит как float64", map[string]any{"id": float64(42)}, "42", true},
		{"пустая строка не считается", map[string]any{"id": ""}, "", false},
		{"нет известных ключей", map[string]any{"page": "1"}, "", false},
		{"nil params", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ActionPayload{Params: tt.params}
			got, ok := p.ItemID()
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetKey(t *testing.T) {
	withID := ActionPayload{Params: map[string]any{"id": "b-42"}}
	assert.Equal(t, "beneficio.cancelar:b-42", withID.TargetKey("beneficio.cancelar"))

	// Без идентифицируемой цели дедупликация идет по типу действия целиком
	withoutID := ActionPayload{Params: map[string]any{"filtro": "ativos"}}
	assert.Equal(t, "relatorio.exportar", withoutID.TargetKey("relatorio.exportar"))
}
