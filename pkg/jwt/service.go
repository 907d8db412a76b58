package jwt

import (
	"time"
)

// Service validates and issues chat access tokens. It is the token-validator
// collaborator consumed by the connection manager.
type Service struct {
	secretKey string
	expiry    time.Duration
}

// NewService creates a new JWT service
func NewService(secretKey string, expiry time.Duration) *Service {
	if secretKey == "" {
		secretKey = getSecretKey()
	}
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &Service{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// GenerateToken issues a token for an identity
func (s *Service) GenerateToken(userID, displayName string, role Role) (string, error) {
	return GenerateToken(userID, displayName, role, s.secretKey, s.expiry)
}

// ValidateToken validates a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ParseToken(tokenString, s.secretKey)
}
