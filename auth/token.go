package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a token that failed parsing or validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Tokens verifies the bearer tokens issued by the platform's identity service.
type Tokens struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewTokens creates a token verifier for the shared HMAC secret.
func NewTokens(jwtSecret string) *Tokens {
	return &Tokens{
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Tokens) WithClock(now func() time.Time) *Tokens {
	s.now = now
	return s
}

// VerifyToken validates a JWT token and returns the user ID and role.
func (s *Tokens) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return "", "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}
	return userID, role, nil
}

// GenerateToken signs a token for userID. The identity service owns issuance in
// production; operators use this for tooling and tests.
func (s *Tokens) GenerateToken(userID string, role Role, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}
