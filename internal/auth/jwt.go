package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleCashier UserRole = "CASHIER"
	RoleDisplay UserRole = "DISPLAY"
)

// CanOperate reports whether the role may change orders on the board.
func (r UserRole) CanOperate() bool {
	return r == RoleAdmin || r == RoleCashier
}

type Claims struct {
	OperatorID string   `json:"operatorId"`
	Role       UserRole `json:"role"`
	Name       *string  `json:"name,omitempty"`
	Terminal   *string  `json:"terminal,omitempty"`
	jwt.RegisteredClaims
}

func ParseBearerToken(authHeader string) string {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func VerifyAccessToken(tokenString string, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token required")
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errors.New("token expired")
	}
	if strings.TrimSpace(claims.OperatorID) == "" {
		return nil, errors.New("token has no operator")
	}
	return claims, nil
}

// SignAccessToken issues an HS256 token for an operator. Tokens are normally
// minted by the storefront's auth service; this exists for terminals that are
// provisioned locally.
func SignAccessToken(operatorID string, role UserRole, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := Claims{
		OperatorID: operatorID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
