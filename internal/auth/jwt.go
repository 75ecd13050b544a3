package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleTranscription is the role of tokens accepted by the transcription relay
const RoleTranscription = "transcription"

const defaultTranscriptionTTL = 60 * time.Second

var (
	// ErrInvalidRole is returned when a valid token carries the wrong role
	ErrInvalidRole = errors.New("token role not allowed")
	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("JWT secret is required")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	UserID         string `json:"user_id,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds token configuration
type Config struct {
	Secret           string        // Required: HS256 signing secret
	TranscriptionTTL time.Duration // Optional: lifetime of transcription tokens (default: 60s)
}

// ConfigFromEnv reads token configuration from environment variables
func ConfigFromEnv() Config {
	config := Config{Secret: os.Getenv("JWT_SECRET")}
	if ttl := os.Getenv("TRANSCRIPTION_TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			config.TranscriptionTTL = d
		}
	}
	return config
}

// TokenIssuer signs and validates short-lived tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a new token issuer
func NewTokenIssuer(config Config) (*TokenIssuer, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	ttl := config.TranscriptionTTL
	if ttl == 0 {
		ttl = defaultTranscriptionTTL
	}
	return &TokenIssuer{
		secret: []byte(config.Secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// IssueTranscriptionToken generates a token allowing one relay connection for targetLanguage
func (i *TokenIssuer) IssueTranscriptionToken(userID, targetLanguage string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		UserID:         userID,
		TargetLanguage: targetLanguage,
		Role:           RoleTranscription,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *TokenIssuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// ValidateTranscriptionToken validates a token and requires the transcription role
func (i *TokenIssuer) ValidateTranscriptionToken(tokenString string) (*JWTClaims, error) {
	claims, err := i.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleTranscription {
		return nil, ErrInvalidRole
	}
	return claims, nil
}
