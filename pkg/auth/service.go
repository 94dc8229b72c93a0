package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperr "github.com/platformid/simple-auth/pkg/errors"
	"github.com/platformid/simple-auth/pkg/notification"
	"github.com/platformid/simple-auth/pkg/otp"
	tg "github.com/platformid/simple-auth/pkg/tokengenerator"
	"github.com/platformid/simple-auth/pkg/user"
)

// Default lifetimes and roles
const (
	DefaultResetTokenTTL = 15 * time.Minute
	DefaultRole          = "USER"
)

// AuthService is the session and credential lifecycle engine. It orchestrates
// registration, OTP-gated login, per-platform session activation, token
// refresh, logout and password reset against the credential store.
type AuthService struct {
	repo          user.UserRepository
	otpService    *otp.Service
	tokenService  *tg.TokenService
	notifier      *notification.NotificationManager
	hasher        PasswordHasher
	resetTokenTTL time.Duration
	defaultRole   string
}

// Option is a function that configures an AuthService
type Option func(*AuthService)

// WithPasswordHasher sets the password hasher
func WithPasswordHasher(hasher PasswordHasher) Option {
	return func(s *AuthService) {
		s.hasher = hasher
	}
}

// WithResetTokenTTL sets the password reset token time-to-live
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *AuthService) {
		s.resetTokenTTL = ttl
	}
}

// WithDefaultRole sets the role assigned to newly registered users
func WithDefaultRole(role string) Option {
	return func(s *AuthService) {
		s.defaultRole = role
	}
}

// NewAuthService creates a new AuthService
func NewAuthService(repo user.UserRepository, otpService *otp.Service, tokenService *tg.TokenService, notifier *notification.NotificationManager, opts ...Option) *AuthService {
	s := &AuthService{
		repo:          repo,
		otpService:    otpService,
		tokenService:  tokenService,
		notifier:      notifier,
		hasher:        &BcryptHasher{},
		resetTokenTTL: DefaultResetTokenTTL,
		defaultRole:   DefaultRole,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterResult is the outcome of a successful registration. It is a
// pending identifier, not a session.
type RegisterResult struct {
	UserID uuid.UUID
}

// LoginTokens holds the bearer material minted on session activation
type LoginTokens struct {
	AccessToken    tg.TokenValue
	RefreshToken   tg.TokenValue
	SessionVersion int64
}

// Register creates an unverified user, stores an OTP for the email and
// notifies the user out of band.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (RegisterResult, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return RegisterResult{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to hash password")
	}

	u, err := s.repo.Create(ctx, user.CreateUserParams{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         s.defaultRole,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		return RegisterResult{}, apperr.New(apperr.ErrCodeConflict, "email already registered")
	}
	if err != nil {
		return RegisterResult{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create user")
	}

	if err := s.sendOTP(ctx, u.Email, notification.SignupOTPNotice); err != nil {
		return RegisterResult{}, err
	}

	slog.Info("User registered", "email", u.Email, "userID", u.ID)
	return RegisterResult{UserID: u.ID}, nil
}

// VerifyRegistrationOTP confirms a registration OTP and marks the user
// verified. It does not issue tokens; registration confirmation is distinct
// from login.
func (s *AuthService) VerifyRegistrationOTP(ctx context.Context, email, code string) error {
	valid, err := s.otpService.Verify(ctx, email, code)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to verify passcode")
	}
	if !valid {
		return apperr.New(apperr.ErrCodeOTPInvalid, "invalid or expired passcode")
	}

	err = s.repo.MarkVerified(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return apperr.New(apperr.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to mark user verified")
	}

	slog.Info("Registration OTP verified", "email", email)
	return nil
}

// Login checks the password credential and, on success, records a fresh
// pending login for the platform and sends a login OTP. Session fields are
// not touched: an unconfirmed login must not preempt an active session.
func (s *AuthService) Login(ctx context.Context, email, password, platform string) error {
	p, ok := user.ParsePlatform(platform)
	if !ok {
		return apperr.Newf(apperr.ErrCodeInvalidPlatform, "unknown platform: %s", platform)
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return apperr.New(apperr.ErrCodeInvalidCredentials, "invalid credentials")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to find user")
	}

	match, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to verify password")
	}
	if !match {
		return apperr.New(apperr.ErrCodeInvalidCredentials, "invalid credentials")
	}

	if !u.IsVerified {
		return apperr.New(apperr.ErrCodeEmailNotVerified, "please verify your email first")
	}

	pendingToken, err := randomToken(32)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to generate pending login token")
	}
	if err := s.repo.SetPendingLogin(ctx, u.ID, pendingToken, p, time.Now().UTC()); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to record pending login")
	}

	if err := s.sendOTP(ctx, u.Email, notification.LoginOTPNotice); err != nil {
		return err
	}

	slog.Info("Login OTP sent", "email", u.Email, "platform", p)
	return nil
}

// VerifyLoginOTP confirms a login OTP and activates a session for the
// platform. The session version bump is performed atomically with token
// minting and the pending-login clear; a racing activation on the same
// pending login loses with NO_PENDING_LOGIN.
func (s *AuthService) VerifyLoginOTP(ctx context.Context, email, code, platform string) (LoginTokens, error) {
	p, ok := user.ParsePlatform(platform)
	if !ok {
		return LoginTokens{}, apperr.Newf(apperr.ErrCodeInvalidPlatform, "unknown platform: %s", platform)
	}

	valid, err := s.otpService.Verify(ctx, email, code)
	if err != nil {
		return LoginTokens{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to verify passcode")
	}
	if !valid {
		return LoginTokens{}, apperr.New(apperr.ErrCodeOTPInvalid, "invalid or expired passcode")
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return LoginTokens{}, apperr.New(apperr.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return LoginTokens{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to find user")
	}

	var accessToken, refreshToken tg.TokenValue
	expiresAt := time.Now().UTC().Add(s.tokenService.RefreshTokenExpiry)

	activated, err := s.repo.ActivateSession(ctx, email, p, expiresAt, func(version int64) (user.TokenPair, error) {
		claims := tg.Claims{
			UserID:         u.ID.String(),
			Email:          u.Email,
			Role:           u.Role,
			Platform:       string(p),
			SessionVersion: version,
		}

		var mintErr error
		accessToken, mintErr = s.tokenService.GenerateAccessToken(claims)
		if mintErr != nil {
			return user.TokenPair{}, fmt.Errorf("failed to mint access token: %w", mintErr)
		}
		refreshToken, mintErr = s.tokenService.GenerateRefreshToken(claims)
		if mintErr != nil {
			return user.TokenPair{}, fmt.Errorf("failed to mint refresh token: %w", mintErr)
		}
		return user.TokenPair{AccessToken: accessToken.Token, RefreshToken: refreshToken.Token}, nil
	})
	if errors.Is(err, user.ErrNoPendingLogin) {
		return LoginTokens{}, apperr.New(apperr.ErrCodeNoPendingLogin, "no pending login for this platform")
	}
	if errors.Is(err, user.ErrUserNotFound) {
		return LoginTokens{}, apperr.New(apperr.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return LoginTokens{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to activate session")
	}

	slog.Info("Session activated", "email", email, "platform", p, "sessionVersion", activated.Version)
	return LoginTokens{
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		SessionVersion: activated.Version,
	}, nil
}

// Refresh validates a refresh token against the stored session state and, on
// success, mints a new access token. The refresh token itself and its expiry
// are not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, platform string) (tg.TokenValue, error) {
	p, ok := user.ParsePlatform(platform)
	if !ok {
		return tg.TokenValue{}, apperr.Newf(apperr.ErrCodeInvalidPlatform, "unknown platform: %s", platform)
	}

	claims, err := s.tokenService.ParseRefreshToken(refreshToken)
	if err != nil {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeTokenInvalid, "invalid refresh token")
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeTokenInvalid, "invalid refresh token")
	}

	u, err := s.repo.FindByID(ctx, uid)
	if errors.Is(err, user.ErrUserNotFound) {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeSessionMismatch, "refresh token does not match an active session")
	}
	if err != nil {
		return tg.TokenValue{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to find user")
	}

	session := u.Session(p)
	if !session.Active() || claims.Email != u.Email || claims.Platform != string(p) {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeSessionMismatch, "refresh token does not match an active session")
	}

	if time.Now().After(session.ExpiresAt) {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeSessionExpired, "session has expired")
	}

	// Version staleness is reported before the stored-token comparison so a
	// token from a superseded login cycle reads as stale, not mismatched.
	if claims.SessionVersion != session.Version {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeSessionStale, "token invalidated by a newer session")
	}

	if session.RefreshToken != refreshToken {
		return tg.TokenValue{}, apperr.New(apperr.ErrCodeSessionMismatch, "refresh token does not match an active session")
	}

	accessToken, err := s.tokenService.GenerateAccessToken(tg.Claims{
		UserID:         u.ID.String(),
		Email:          u.Email,
		Role:           u.Role,
		Platform:       string(p),
		SessionVersion: session.Version,
	})
	if err != nil {
		return tg.TokenValue{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to mint access token")
	}

	return accessToken, nil
}

// Logout clears the platform's session fields. The session version is left
// alone: a subsequent login will increment it further and the cleared
// refresh token can no longer match.
func (s *AuthService) Logout(ctx context.Context, email, platform string) error {
	p, ok := user.ParsePlatform(platform)
	if !ok {
		return apperr.Newf(apperr.ErrCodeInvalidPlatform, "unknown platform: %s", platform)
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return apperr.New(apperr.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to find user")
	}

	if !u.Session(p).Active() {
		return apperr.New(apperr.ErrCodeNoActiveSession, "no active session for this platform")
	}

	if err := s.repo.ClearSession(ctx, u.ID, p); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to clear session")
	}

	slog.Info("User logged out", "email", email, "platform", p)
	return nil
}

// ForgotPassword issues a single-use, time-boxed password reset token and
// notifies the user out of band.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return apperr.New(apperr.ErrCodeNotFound, "user not found")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to find user")
	}

	token, err := randomToken(32)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to generate reset token")
	}
	if err := s.repo.SetResetToken(ctx, u.ID, token, time.Now().UTC().Add(s.resetTokenTTL)); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to store reset token")
	}

	s.notify(u.Email, notification.PasswordResetNotice, map[string]string{
		"Token": token,
		"TTL":   formatTTL(s.resetTokenTTL),
	})

	slog.Info("Password reset token issued", "email", email)
	return nil
}

// ResetPassword consumes a reset token and replaces the password hash. The
// token is looked up and cleared atomically with the password update.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to hash password")
	}

	err = s.repo.ConsumeResetToken(ctx, token, hash)
	if errors.Is(err, user.ErrResetTokenInvalid) {
		return apperr.New(apperr.ErrCodeResetTokenInvalid, "invalid or expired reset token")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to reset password")
	}

	slog.Info("Password reset completed")
	return nil
}

// sendOTP generates, stores and delivers a fresh OTP for the email
func (s *AuthService) sendOTP(ctx context.Context, email string, noticeType notification.NoticeType) error {
	code, err := s.otpService.Generate()
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to generate passcode")
	}
	if err := s.otpService.Store(ctx, email, code); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to store passcode")
	}

	s.notify(email, noticeType, map[string]string{
		"OTP": code,
		"TTL": formatTTL(s.otpService.TTL()),
	})
	return nil
}

// notify delivers a notice fire-and-forget: delivery failures are logged and
// do not fail the triggering operation.
func (s *AuthService) notify(email string, noticeType notification.NoticeType, data map[string]string) {
	err := s.notifier.Send(noticeType, notification.NotificationData{
		To:   email,
		Data: data,
	})
	if err != nil {
		slog.Error("Failed to send notification", "noticeType", noticeType, "email", email, "err", err)
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func formatTTL(d time.Duration) string {
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
