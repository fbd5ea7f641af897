package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/obsidian-remote-cli/internal/domain"
)

// DefaultLeeway - допустимый разъезд часов телефона и VPS.
const DefaultLeeway = 30 * time.Second

// Verifier проверяет токены, выпущенные где-то ещё: сервис хранит только публичный ключ.
type Verifier struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewVerifier(pubKey *rsa.PublicKey, leeway time.Duration) *Verifier {
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

// VerifyToken реализует TokenValidator. Принимает как "Bearer <jwt>", так и голый токен.
// Бессрочные токены и токены без user_id отклоняются.
func (v *Verifier) VerifyToken(header string) (*domain.CustomClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return nil, errors.New("empty token")
	}

	claims := &domain.CustomClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("invalid token: user_id claim is empty")
	}
	return claims, nil
}

// ParseRSAPublicKey разбирает PEM из файла или AUTH_PUBLIC_KEY_DATA.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
