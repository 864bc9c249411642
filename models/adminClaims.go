package models

import (
	jwt "github.com/dgrijalva/jwt-go"
)

// AdminClaims は管理APIのJWTクレームです。
type AdminClaims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}
