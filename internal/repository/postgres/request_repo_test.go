package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextArrayNormalizesNil(t *testing.T) {
	// nil-слайс pgx кодирует как SQL NULL, а колонки attachments
	// объявлены NOT NULL DEFAULT '{}' — без нормализации вставка
	// заявки или решения без вложений падала бы с 23502
	got := textArray(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	assert.Equal(t, []string{}, textArray([]string{}))
	assert.Equal(t, []string{"laudo.pdf"}, textArray([]string{"laudo.pdf"}))
}
