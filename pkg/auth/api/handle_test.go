package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformid/simple-auth/pkg/auth"
	"github.com/platformid/simple-auth/pkg/notice"
	"github.com/platformid/simple-auth/pkg/notification"
	"github.com/platformid/simple-auth/pkg/otp"
	tg "github.com/platformid/simple-auth/pkg/tokengenerator"
	"github.com/platformid/simple-auth/pkg/user"
)

type testServer struct {
	router   *chi.Mux
	repo     *user.InMemoryUserRepository
	notifier *notification.MockNotifier
	tokens   *tg.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := user.NewInMemoryUserRepository()
	otpService := otp.NewService(otp.NewInMemoryOTPRepository())
	tokenService := tg.NewTokenService(
		tg.NewJwtTokenGenerator("access-secret", "simple-auth", "simple-auth"),
		tg.NewJwtTokenGenerator("refresh-secret", "simple-auth", "simple-auth"),
	)
	nm, mock, err := notice.NewMockNotificationManager()
	require.NoError(t, err)

	authService := auth.NewAuthService(repo, otpService, tokenService, nm)
	handle := NewHandle(authService, tokenService, tg.NewCookieSetter(true, false))

	r := chi.NewRouter()
	r.Route("/api/auth", handle.Routes)

	return &testServer{router: r, repo: repo, notifier: mock, tokens: tokenService}
}

func (s *testServer) post(t *testing.T, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) lastOTP(t *testing.T) string {
	t.Helper()
	sent, ok := s.notifier.Last()
	require.True(t, ok)
	return sent.Data["OTP"]
}

func (s *testServer) register(t *testing.T, email, password string) {
	t.Helper()

	rec := s.post(t, "/api/auth/register", RegisterRequest{Name: "Test User", Email: email, Password: password})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.post(t, "/api/auth/verify-register-otp", VerifyOTPRequest{Email: email, OTP: s.lastOTP(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) login(t *testing.T, email, password, platform string) (string, *http.Cookie) {
	t.Helper()

	rec := s.post(t, "/api/auth/login", LoginRequest{Email: email, Password: password, Platform: platform})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.post(t, "/api/auth/verify-otp", VerifyOTPRequest{Email: email, OTP: s.lastOTP(t), Platform: platform})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginTokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)

	var refreshCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == tg.RefreshTokenCookieName(platform) {
			refreshCookie = c
		}
	}
	require.NotNil(t, refreshCookie, "expected a refresh cookie")
	return resp.AccessToken, refreshCookie
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"bad email", RegisterRequest{Name: "n", Email: "not-an-email", Password: "pw12345!"}},
		{"short password", RegisterRequest{Name: "n", Email: "a@x.com", Password: "short"}},
		{"missing name", RegisterRequest{Name: " ", Email: "a@x.com", Password: "pw12345!"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.post(t, "/api/auth/register", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	rec := s.post(t, "/api/auth/register", RegisterRequest{Name: "n", Email: "a@x.com", Password: "pw12345!"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, rec))
}

func TestLoginStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	rec := s.post(t, "/api/auth/login", LoginRequest{Email: "a@x.com", Password: "wrong-pass", Platform: "WEB"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))

	rec = s.post(t, "/api/auth/login", LoginRequest{Email: "a@x.com", Password: "pw12345!", Platform: "DESKTOP"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PLATFORM", errorCode(t, rec))
}

func TestVerifyOTPSetsRefreshCookie(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	_, cookie := s.login(t, "a@x.com", "pw12345!", "WEB")
	assert.Equal(t, "webRefreshToken", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.NotEmpty(t, cookie.Value)
}

func TestRefreshTokenFromBody(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")
	_, cookie := s.login(t, "a@x.com", "pw12345!", "WEB")

	rec := s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{RefreshToken: cookie.Value, Platform: "WEB"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginTokensResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRefreshTokenFromCookie(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")
	_, cookie := s.login(t, "a@x.com", "pw12345!", "WEB")

	rec := s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{Platform: "WEB"}, cookie)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshTokenMissing(t *testing.T) {
	s := newTestServer(t)

	rec := s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{Platform: "WEB"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec))
}

func TestRefreshTokenInvalidPlatform(t *testing.T) {
	s := newTestServer(t)

	// Platform is rejected even when no token is supplied
	rec := s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{Platform: "DESKTOP"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PLATFORM", errorCode(t, rec))
}

func TestLogoutClearsCookie(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")
	_, cookie := s.login(t, "a@x.com", "pw12345!", "WEB")

	rec := s.post(t, "/api/auth/logout", LogoutRequest{Email: "a@x.com", Platform: "WEB"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "webRefreshToken" {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// The old refresh token is now rejected
	rec = s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{RefreshToken: cookie.Value, Platform: "WEB"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SESSION_MISMATCH", errorCode(t, rec))
}

func TestSecondLoginInvalidatesFirstRefreshToken(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	_, first := s.login(t, "a@x.com", "pw12345!", "WEB")
	s.login(t, "a@x.com", "pw12345!", "WEB")

	rec := s.post(t, "/api/auth/refresh-token", RefreshTokenRequest{RefreshToken: first.Value, Platform: "WEB"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	rec := s.post(t, "/api/auth/forgot-password", ForgotPasswordRequest{Email: "a@x.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent, ok := s.notifier.Last()
	require.True(t, ok)
	token := sent.Data["Token"]
	require.NotEmpty(t, token)

	rec = s.post(t, "/api/auth/reset-password", ResetPasswordRequest{Token: token, NewPassword: "newpw9876!"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.post(t, "/api/auth/reset-password", ResetPasswordRequest{Token: token, NewPassword: "another99!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RESET_TOKEN_INVALID", errorCode(t, rec))
}

func TestAuthenticateMiddleware(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")
	accessToken, _ := s.login(t, "a@x.com", "pw12345!", "WEB")

	mw := NewMiddleware(s.repo, s.tokens)

	protected := chi.NewRouter()
	protected.Use(mw.Authenticate)
	protected.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		authUser, ok := AuthUserFromContext(r.Context())
		require.True(t, ok)
		fmt.Fprint(w, authUser.Email)
	})

	get := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	rec := get(accessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", rec.Body.String())

	rec = get("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get("garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A second login bumps the session version; the old access token is stale
	s.login(t, "a@x.com", "pw12345!", "WEB")
	rec = get(accessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// After logout the platform has no active session at all
	s.post(t, "/api/auth/logout", LogoutRequest{Email: "a@x.com", Platform: "WEB"})
	rec = get(accessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticateExpiredSession(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "pw12345!")

	ctx := context.Background()
	u, err := s.repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	// Activate a session that has already passed its expiry
	require.NoError(t, s.repo.SetPendingLogin(ctx, u.ID, "pending", user.PlatformWeb, time.Now()))
	var accessToken string
	_, err = s.repo.ActivateSession(ctx, "a@x.com", user.PlatformWeb, time.Now().Add(-time.Minute), func(version int64) (user.TokenPair, error) {
		claims := tg.Claims{
			UserID:         u.ID.String(),
			Email:          u.Email,
			Role:           u.Role,
			Platform:       "WEB",
			SessionVersion: version,
		}
		access, err := s.tokens.GenerateAccessToken(claims)
		if err != nil {
			return user.TokenPair{}, err
		}
		refresh, err := s.tokens.GenerateRefreshToken(claims)
		if err != nil {
			return user.TokenPair{}, err
		}
		accessToken = access.Token
		return user.TokenPair{AccessToken: access.Token, RefreshToken: refresh.Token}, nil
	})
	require.NoError(t, err)

	mw := NewMiddleware(s.repo, s.tokens)
	protected := chi.NewRouter()
	protected.Use(mw.Authenticate)
	protected.Get("/me", func(w http.ResponseWriter, _ *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SESSION_EXPIRED", errorCode(t, rec))
}

func TestRequireRoles(t *testing.T) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), AuthUserKey, AuthUser{Email: "a@x.com", Role: "USER"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.With(RequireRoles("ADMIN")).Get("/admin", func(w http.ResponseWriter, _ *http.Request) {})
	r.With(RequireRoles("ADMIN", "USER")).Get("/shared", func(w http.ResponseWriter, _ *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/shared", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
