package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common repository errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrNoPendingLogin    = errors.New("no pending login for platform")
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
)

// CreateUserParams holds the fields for creating a new user
type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
}

// TokenPair holds a freshly minted access/refresh token pair
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// MintFunc mints a token pair embedding the given session version. It is
// invoked inside the activation critical section so that the version read,
// the token minting and the session write happen as one atomic step.
type MintFunc func(version int64) (TokenPair, error)

// ActivatedSession is the result of a successful session activation
type ActivatedSession struct {
	UserID    uuid.UUID
	SessionID string
	Version   int64
	ExpiresAt time.Time
	Tokens    TokenPair
}

// UserRepository defines the interface for credential store operations.
//
// ActivateSession is the only compound operation: implementations must make
// the pending-login check, the version increment, the mint callback and the
// session-field write atomic as a group, so that of two racing activations
// exactly one wins and the loser observes ErrNoPendingLogin.
type UserRepository interface {
	Create(ctx context.Context, arg CreateUserParams) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id uuid.UUID) (User, error)

	// MarkVerified flips the is_verified flag for the given email
	MarkVerified(ctx context.Context, email string) error

	// SetPendingLogin overwrites any prior pending login token and platform
	// and stamps last_login_at
	SetPendingLogin(ctx context.Context, id uuid.UUID, token string, platform Platform, lastLoginAt time.Time) error

	// ActivateSession atomically bumps the platform's session version,
	// mints tokens embedding the new version, writes the session fields and
	// clears the pending-login fields. Fails with ErrNoPendingLogin when no
	// pending login exists for the platform (or it was consumed by a racing
	// activation).
	ActivateSession(ctx context.Context, email string, platform Platform, expiresAt time.Time, mint MintFunc) (ActivatedSession, error)

	// ClearSession nulls the platform's refresh token, session id and
	// expiry. The session version is left untouched.
	ClearSession(ctx context.Context, id uuid.UUID, platform Platform) error

	// SetResetToken stores a single-use password reset token with expiry
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error

	// ConsumeResetToken replaces the password hash and nulls the reset token
	// fields in one atomic step. Fails with ErrResetTokenInvalid when no
	// user holds a matching, unexpired token.
	ConsumeResetToken(ctx context.Context, token string, newPasswordHash string) error
}
