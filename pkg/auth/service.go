package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

/*
Service issues and validates the JWT credentials task clients present.
Tokens are tracked so they can be revoked before their expiry, and every
validation passes through a rate limiter so a flood of bad credentials
cannot monopolize the server.
*/
type Service struct {
	mu            sync.RWMutex
	tokens        map[string]*TokenInfo
	refreshTokens map[string]string
	limiter       *RateLimiter
	signingKey    []byte
}

// TokenInfo is an issued token and its metadata.
type TokenInfo struct {
	Token        string
	ExpiresAt    time.Time
	RefreshToken string
	Subject      string
}

func NewService(signingKey []byte) *Service {
	return &Service{
		tokens:        make(map[string]*TokenInfo),
		refreshTokens: make(map[string]string),
		limiter:       NewRateLimiter(100, time.Minute),
		signingKey:    signingKey,
	}
}

func (s *Service) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	return s.signingKey, nil
}

/*
Validate checks an Authorization header value.  The "Bearer " prefix is
optional so the service can also validate raw tokens.
*/
func (s *Service) Validate(authHeader string) error {
	if !s.limiter.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}

	if authHeader == "" {
		return fmt.Errorf("missing authorization header")
	}

	tokenStr := authHeader
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		tokenStr = authHeader[7:]
	}

	token, err := jwt.Parse(tokenStr, s.keyFunc)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("token expired")
	}

	return nil
}

// Issue mints a token for subject, valid for ttl, plus a 24h refresh token.
func (s *Service) Issue(subject string, ttl time.Duration) (*TokenInfo, error) {
	now := time.Now()

	// jti keeps every mint unique; without it two issues for the same
	// subject inside one second sign to identical bytes.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
		"jti": uuid.New().String(),
	})
	tokenStr, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(24 * time.Hour).Unix(),
		"iat": now.Unix(),
		"jti": uuid.New().String(),
	})
	refreshStr, err := refresh.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	info := &TokenInfo{
		Token:        tokenStr,
		ExpiresAt:    now.Add(ttl),
		RefreshToken: refreshStr,
		Subject:      subject,
	}

	s.mu.Lock()
	s.tokens[tokenStr] = info
	s.refreshTokens[refreshStr] = tokenStr
	s.mu.Unlock()

	return info, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *Service) Refresh(refreshToken string) (*TokenInfo, error) {
	s.mu.RLock()
	oldToken, exists := s.refreshTokens[refreshToken]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid refresh token")
	}

	if _, err := jwt.Parse(refreshToken, s.keyFunc); err != nil {
		return nil, fmt.Errorf("refresh token no longer valid: %w", err)
	}

	s.mu.RLock()
	info, ok := s.tokens[oldToken]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("original token revoked")
	}

	return s.Issue(info.Subject, time.Hour)
}

// Revoke drops a token and its refresh token.
func (s *Service) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.tokens[token]
	if !exists {
		return fmt.Errorf("token not found")
	}

	delete(s.tokens, token)
	delete(s.refreshTokens, info.RefreshToken)

	return nil
}
