package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies the client category a session belongs to. Session
// state is tracked independently per platform.
type Platform string

const (
	PlatformWeb    Platform = "WEB"
	PlatformMobile Platform = "MOBILE"
)

// Platforms lists all supported platforms.
var Platforms = []Platform{PlatformWeb, PlatformMobile}

// ParsePlatform validates a platform string at the boundary. Matching is
// case-insensitive so handlers can accept "web" and "WEB" alike.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(strings.ToUpper(s)) {
	case PlatformWeb:
		return PlatformWeb, true
	case PlatformMobile:
		return PlatformMobile, true
	default:
		return "", false
	}
}

// Lower returns the lowercase form used for cookie names and column prefixes.
func (p Platform) Lower() string {
	return strings.ToLower(string(p))
}

// Session holds the per-platform session fields. RefreshToken, SessionID and
// ExpiresAt are set and cleared together; Version only ever increases.
type Session struct {
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
	Version      int64
}

// Active reports whether the platform has a live session.
func (s Session) Active() bool {
	return s.RefreshToken != ""
}

// User represents a user record in the credential store.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsVerified   bool
	LastLoginAt  time.Time

	Web    Session
	Mobile Session

	PendingLoginToken    string
	PendingLoginPlatform Platform

	ResetPasswordToken     string
	ResetPasswordExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session returns the session state for the given platform.
func (u *User) Session(p Platform) Session {
	if p == PlatformMobile {
		return u.Mobile
	}
	return u.Web
}
