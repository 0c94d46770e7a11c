// Package auth issues and validates the JWT bearer tokens used by support
// agents on the ticket endpoints.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService handles JWT token creation and validation for agents.
type TokenService struct {
	secretKey []byte

	// TokenDuration is the lifetime of issued tokens.
	TokenDuration time.Duration
}

// AgentClaims represents the claims in agent tokens.
type AgentClaims struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// IssuedToken is the response shape for a newly issued token.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

// NewTokenService creates a token service with the given signing secret.
func NewTokenService(secretKey string, duration time.Duration) *TokenService {
	if duration <= 0 {
		duration = 12 * time.Hour
	}
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: duration,
	}
}

// IssueToken signs a token for an agent.
func (ts *TokenService) IssueToken(agentID, role string) (*IssuedToken, error) {
	expiresAt := time.Now().Add(ts.TokenDuration)
	claims := &AgentClaims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "ridedesk",
			Subject:   "agent_" + agentID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT: %w", err)
	}

	return &IssuedToken{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// ValidateToken parses and validates an agent token.
func (ts *TokenService) ValidateToken(tokenString string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.AgentID == "" {
		return nil, fmt.Errorf("token missing agent id")
	}
	return claims, nil
}
