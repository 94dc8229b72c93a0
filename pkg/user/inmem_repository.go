package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryUserRepository implements UserRepository using in-memory storage.
// Intended for tests and local development.
type InMemoryUserRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	usersByEmail map[string]uuid.UUID
}

// NewInMemoryUserRepository creates a new in-memory user repository
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:        make(map[uuid.UUID]User),
		usersByEmail: make(map[string]uuid.UUID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create creates a new user record
func (r *InMemoryUserRepository) Create(ctx context.Context, arg CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := normalizeEmail(arg.Email)
	if _, ok := r.usersByEmail[email]; ok {
		return User{}, ErrEmailTaken
	}

	now := time.Now().UTC()
	u := User{
		ID:           uuid.New(),
		Email:        email,
		Name:         arg.Name,
		PasswordHash: arg.PasswordHash,
		Role:         arg.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.users[u.ID] = u
	r.usersByEmail[email] = u.ID
	return u, nil
}

// FindByEmail finds a user by email
func (r *InMemoryUserRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByEmail[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

// FindByID finds a user by id
func (r *InMemoryUserRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// MarkVerified flips the verified flag for the given email
func (r *InMemoryUserRepository) MarkVerified(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usersByEmail[normalizeEmail(email)]
	if !ok {
		return ErrUserNotFound
	}

	u := r.users[id]
	u.IsVerified = true
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

// SetPendingLogin overwrites the pending login token and platform
func (r *InMemoryUserRepository) SetPendingLogin(ctx context.Context, id uuid.UUID, token string, platform Platform, lastLoginAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}

	u.PendingLoginToken = token
	u.PendingLoginPlatform = platform
	u.LastLoginAt = lastLoginAt
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

// ActivateSession atomically activates a session for the platform. The mint
// callback runs while the repository lock is held, so two racing activations
// serialize and the loser finds the pending fields already cleared.
func (r *InMemoryUserRepository) ActivateSession(ctx context.Context, email string, platform Platform, expiresAt time.Time, mint MintFunc) (ActivatedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usersByEmail[normalizeEmail(email)]
	if !ok {
		return ActivatedSession{}, ErrUserNotFound
	}

	u := r.users[id]
	if u.PendingLoginToken == "" || u.PendingLoginPlatform != platform {
		return ActivatedSession{}, ErrNoPendingLogin
	}

	session := u.Session(platform)
	newVersion := session.Version + 1

	tokens, err := mint(newVersion)
	if err != nil {
		return ActivatedSession{}, err
	}

	activated := Session{
		RefreshToken: tokens.RefreshToken,
		SessionID:    uuid.New().String(),
		ExpiresAt:    expiresAt,
		Version:      newVersion,
	}
	if platform == PlatformMobile {
		u.Mobile = activated
	} else {
		u.Web = activated
	}
	u.PendingLoginToken = ""
	u.PendingLoginPlatform = ""
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u

	return ActivatedSession{
		UserID:    u.ID,
		SessionID: activated.SessionID,
		Version:   newVersion,
		ExpiresAt: expiresAt,
		Tokens:    tokens,
	}, nil
}

// ClearSession nulls the platform's session fields, leaving the version alone
func (r *InMemoryUserRepository) ClearSession(ctx context.Context, id uuid.UUID, platform Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}

	session := u.Session(platform)
	cleared := Session{Version: session.Version}
	if platform == PlatformMobile {
		u.Mobile = cleared
	} else {
		u.Web = cleared
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

// SetResetToken stores a password reset token with expiry
func (r *InMemoryUserRepository) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}

	u.ResetPasswordToken = token
	u.ResetPasswordExpiresAt = expiresAt
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

// ConsumeResetToken replaces the password hash and clears the reset token
// fields in one critical section
func (r *InMemoryUserRepository) ConsumeResetToken(ctx context.Context, token string, newPasswordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token == "" {
		return ErrResetTokenInvalid
	}

	for id, u := range r.users {
		if u.ResetPasswordToken != token {
			continue
		}
		if time.Now().After(u.ResetPasswordExpiresAt) {
			return ErrResetTokenInvalid
		}

		u.PasswordHash = newPasswordHash
		u.ResetPasswordToken = ""
		u.ResetPasswordExpiresAt = time.Time{}
		u.UpdatedAt = time.Now().UTC()
		r.users[id] = u
		return nil
	}
	return ErrResetTokenInvalid
}
