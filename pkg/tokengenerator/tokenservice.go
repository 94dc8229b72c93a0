package tokengenerator

import (
	"time"
)

// Token type constants
const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
)

// Default token expiry durations
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// TokenValue holds an issued token string together with its expiry
type TokenValue struct {
	Token  string
	Expiry time.Time
}

// TokenService issues and verifies access and refresh tokens. The two token
// kinds are signed with distinct generators (distinct secrets), so a leaked
// access token cannot be replayed as a refresh token.
type TokenService struct {
	accessTokenGenerator  TokenGenerator
	refreshTokenGenerator TokenGenerator

	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// Option is a function that configures a TokenService
type Option func(*TokenService)

// WithAccessTokenExpiry sets the access token expiry duration
func WithAccessTokenExpiry(expiry time.Duration) Option {
	return func(s *TokenService) {
		s.AccessTokenExpiry = expiry
	}
}

// WithRefreshTokenExpiry sets the refresh token expiry duration
func WithRefreshTokenExpiry(expiry time.Duration) Option {
	return func(s *TokenService) {
		s.RefreshTokenExpiry = expiry
	}
}

// NewTokenService creates a new TokenService
func NewTokenService(accessTokenGenerator, refreshTokenGenerator TokenGenerator, opts ...Option) *TokenService {
	s := &TokenService{
		accessTokenGenerator:  accessTokenGenerator,
		refreshTokenGenerator: refreshTokenGenerator,
		AccessTokenExpiry:     DefaultAccessTokenExpiry,
		RefreshTokenExpiry:    DefaultRefreshTokenExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAccessToken issues a short-lived access token
func (s *TokenService) GenerateAccessToken(claims Claims) (TokenValue, error) {
	token, expiry, err := s.accessTokenGenerator.GenerateToken(claims, s.AccessTokenExpiry)
	if err != nil {
		return TokenValue{}, err
	}
	return TokenValue{Token: token, Expiry: expiry}, nil
}

// GenerateRefreshToken issues a longer-lived refresh token
func (s *TokenService) GenerateRefreshToken(claims Claims) (TokenValue, error) {
	token, expiry, err := s.refreshTokenGenerator.GenerateToken(claims, s.RefreshTokenExpiry)
	if err != nil {
		return TokenValue{}, err
	}
	return TokenValue{Token: token, Expiry: expiry}, nil
}

// ParseAccessToken verifies an access token and returns its claims
func (s *TokenService) ParseAccessToken(tokenStr string) (*Claims, error) {
	return s.accessTokenGenerator.ParseToken(tokenStr)
}

// ParseRefreshToken verifies a refresh token and returns its claims
func (s *TokenService) ParseRefreshToken(tokenStr string) (*Claims, error) {
	return s.refreshTokenGenerator.ParseToken(tokenStr)
}
