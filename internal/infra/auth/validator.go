package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/eudresfs/pgben-approval-engine/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// RS256Verifier проверяет токены согласующих одной парой ключей: консоль
// подписывает приватным, шлюз и консоль проверяют публичным. Симметричных
// секретов между сервисами нет.
type RS256Verifier struct {
	publicKey *rsa.PublicKey
}

func NewRS256Verifier(pub *rsa.PublicKey) *RS256Verifier {
	return &RS256Verifier{publicKey: pub}
}

// VerifyToken разбирает Bearer-токен и возвращает клеймы согласующего.
// Токен с любым алгоритмом, кроме RSA, отклоняется до проверки подписи.
func (v *RS256Verifier) VerifyToken(raw string) (*domain.CustomClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))

	parsed, err := jwt.ParseWithClaims(raw, &domain.CustomClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("token signed with %v, want RS256", t.Header["alg"])
			}
			return v.publicKey, nil
		})
	if err != nil {
		return nil, fmt.Errorf("token rejected: %w", err)
	}

	claims, ok := parsed.Claims.(*domain.CustomClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("token rejected: malformed claims")
	}
	return claims, nil
}

// Ключи приходят из конфига как PEM (файл либо ENV, см. infra.AuthConfig)

func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	if len(pemData) == 0 {
		return nil, fmt.Errorf("auth: rsa public key is not configured")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse rsa public key: %w", err)
	}
	return key, nil
}

func ParseRSAPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	if len(pemData) == 0 {
		return nil, fmt.Errorf("auth: rsa private key is not configured")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse rsa private key: %w", err)
	}
	return key, nil
}
