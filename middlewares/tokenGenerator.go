package middlewares

import (
	"errors"
	"time"

	"botarena/models"

	jwt "github.com/dgrijalva/jwt-go"
)

const adminRole = "admin"

var ErrNoSecret = errors.New("admin secret is not configured")

// GenerateToken は管理API用のJWTトークンを生成します。
func GenerateToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	claims := &models.AdminClaims{
		Role: adminRole,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
