package domain

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "notes:organize": true и т.п.
	jwt.RegisteredClaims
}
