package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	apperr "github.com/platformid/simple-auth/pkg/errors"
	tg "github.com/platformid/simple-auth/pkg/tokengenerator"
	"github.com/platformid/simple-auth/pkg/user"
)

type contextKey string

// AuthUserKey is the request context key holding the authenticated user
const AuthUserKey contextKey = "authUser"

// AuthUser is the identity attached to a request after token verification
type AuthUser struct {
	UserID   uuid.UUID
	Email    string
	Role     string
	Platform user.Platform
}

// Middleware authenticates requests with bearer access tokens. A token is
// only honored while the platform session it was minted under is still the
// live one: session must be active, unexpired and at the same version.
type Middleware struct {
	repo         user.UserRepository
	tokenService *tg.TokenService
}

// NewMiddleware creates a new auth Middleware
func NewMiddleware(repo user.UserRepository, tokenService *tg.TokenService) *Middleware {
	return &Middleware{
		repo:         repo,
		tokenService: tokenService,
	}
}

// Authenticate verifies the bearer access token and attaches the AuthUser to
// the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authUser, err := m.authenticate(r)
		if err != nil {
			renderError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), AuthUserKey, authUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (AuthUser, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return AuthUser{}, apperr.New(apperr.ErrCodeTokenInvalid, "missing bearer token")
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")

	claims, err := m.tokenService.ParseAccessToken(tokenStr)
	if err != nil {
		return AuthUser{}, apperr.New(apperr.ErrCodeTokenInvalid, "invalid access token")
	}

	platform, ok := user.ParsePlatform(claims.Platform)
	if !ok {
		return AuthUser{}, apperr.New(apperr.ErrCodeTokenInvalid, "invalid access token")
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return AuthUser{}, apperr.New(apperr.ErrCodeTokenInvalid, "invalid access token")
	}

	u, err := m.repo.FindByID(r.Context(), uid)
	if err != nil {
		return AuthUser{}, apperr.New(apperr.ErrCodeSessionMismatch, "no active session for this token")
	}

	session := u.Session(platform)
	if !session.Active() {
		return AuthUser{}, apperr.New(apperr.ErrCodeSessionMismatch, "no active session for this token")
	}
	if time.Now().After(session.ExpiresAt) {
		return AuthUser{}, apperr.New(apperr.ErrCodeSessionExpired, "session has expired")
	}
	if claims.SessionVersion != session.Version {
		return AuthUser{}, apperr.New(apperr.ErrCodeSessionStale, "token invalidated by a newer session")
	}

	return AuthUser{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		Platform: platform,
	}, nil
}

// RequireRoles authorizes the authenticated user against an allowed role
// set. It must run after Authenticate.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser, ok := AuthUserFromContext(r.Context())
			if !ok {
				renderError(w, r, apperr.New(apperr.ErrCodeTokenInvalid, "missing bearer token"))
				return
			}
			if _, ok := allowed[authUser.Role]; !ok {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, ErrorResponse{Code: "FORBIDDEN", Message: "insufficient role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthUserFromContext extracts the authenticated user from a request context
func AuthUserFromContext(ctx context.Context) (AuthUser, bool) {
	authUser, ok := ctx.Value(AuthUserKey).(AuthUser)
	return authUser, ok
}
