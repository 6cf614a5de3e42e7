// Package adminauth protects the admin HTTP surface with bearer JWTs,
// adapted from qzbxw-EGO's internal/auth/auth.go: same HMAC-signed-JWT
// approach, trimmed to just issuing and validating a single operator role —
// there is no user database here, so the password-hashing and Google-OIDC
// halves of that file do not apply (see DESIGN.md).
package adminauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenDuration is the validity window of an issued operator token.
const tokenDuration = 24 * time.Hour

// Service issues and validates admin bearer tokens signed with a shared
// secret (config.Admin.Token).
type Service struct {
	secret []byte
}

// New returns a Service signing with secret, which must be non-empty.
func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("adminauth: secret cannot be empty")
	}
	return &Service{secret: []byte(secret)}, nil
}

// IssueToken mints a token for operator, valid for tokenDuration.
func (s *Service) IssueToken(operator string) (string, error) {
	claims := jwt.MapClaims{
		"sub": operator,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(tokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates tokenString, returning the operator subject
// on success.
func (s *Service) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("adminauth: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("adminauth: invalid token")
	}
	operator, ok := claims["sub"].(string)
	if !ok || operator == "" {
		return "", errors.New("adminauth: missing subject claim")
	}
	return operator, nil
}
