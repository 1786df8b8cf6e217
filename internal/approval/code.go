package approval

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCode выдает человекочитаемый код заявки: SOL-<base36 timestamp>-<6 случайных символов>.
// Временная часть делает коды сортируемыми, случайный хвост закрывает коллизии
// при создании нескольких заявок в одну миллисекунду.
func GenerateCode() string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))

	buf := make([]byte, 6)
	// crypto/rand.Read по контракту не возвращает ошибку начиная с Go 1.24
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return fmt.Sprintf("SOL-%s-%s", ts, string(buf))
}
