package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenAuth signs and verifies the HMAC bearer tokens clients present in
// the websocket handshake query.
type TokenAuth struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenAuth(secret string, ttl time.Duration) *TokenAuth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuth{secret: []byte(secret), ttl: ttl}
}

// Identity is what a verified token asserts.
type Identity struct {
	UserID string
	Name   string
	Admin  bool
}

func (a *TokenAuth) Generate(id Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   id.UserID,
		"name":  id.Name,
		"admin": id.Admin,
		"exp":   now.Add(a.ttl).Unix(),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuth) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	admin, _ := claims["admin"].(bool)
	if name == "" {
		name = sub
	}
	return Identity{UserID: sub, Name: name, Admin: admin}, nil
}
