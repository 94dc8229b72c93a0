package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/platformid/simple-auth/pkg/auth"
	apperr "github.com/platformid/simple-auth/pkg/errors"
	tg "github.com/platformid/simple-auth/pkg/tokengenerator"
	"github.com/platformid/simple-auth/pkg/user"
)

// MinPasswordLength is the minimum accepted password length
const MinPasswordLength = 8

// Handle exposes the auth service over HTTP
type Handle struct {
	authService  *auth.AuthService
	tokenService *tg.TokenService
	cookieSetter tg.CookieSetter
}

// NewHandle creates a new Handle
func NewHandle(authService *auth.AuthService, tokenService *tg.TokenService, cookieSetter tg.CookieSetter) *Handle {
	return &Handle{
		authService:  authService,
		tokenService: tokenService,
		cookieSetter: cookieSetter,
	}
}

// Routes mounts the auth endpoints on a chi router
func (h *Handle) Routes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/verify-register-otp", h.VerifyRegisterOTP)
	r.Post("/login", h.Login)
	r.Post("/verify-otp", h.VerifyOTP)
	r.Post("/refresh-token", h.RefreshToken)
	r.Post("/logout", h.Logout)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type VerifyOTPRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Platform string `json:"platform,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Platform string `json:"platform"`
}

type LoginTokensResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	Platform     string `json:"platform"`
}

type LogoutRequest struct {
	Email    string `json:"email"`
	Platform string `json:"platform"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Register handles POST /register
func (h *Handle) Register(w http.ResponseWriter, r *http.Request) {
	var data RegisterRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}
	if err := validatePassword(data.Password); err != nil {
		renderError(w, r, err)
		return
	}
	if strings.TrimSpace(data.Name) == "" {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "name is required"))
		return
	}

	result, err := h.authService.Register(r.Context(), data.Name, data.Email, data.Password)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, RegisterResponse{
		Message: "Registration successful. Please verify your email with the code we sent.",
		UserID:  result.UserID.String(),
	})
}

// VerifyRegisterOTP handles POST /verify-register-otp
func (h *Handle) VerifyRegisterOTP(w http.ResponseWriter, r *http.Request) {
	var data VerifyOTPRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}
	if err := validateOTP(data.OTP); err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.authService.VerifyRegistrationOTP(r.Context(), data.Email, data.OTP); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, MessageResponse{Message: "Email verified successfully"})
}

// Login handles POST /login
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	var data LoginRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.authService.Login(r.Context(), data.Email, data.Password, data.Platform); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, MessageResponse{Message: "Login code sent. Please verify to continue."})
}

// VerifyOTP handles POST /verify-otp. On success the refresh token is
// delivered via a per-platform HttpOnly cookie; only the access token
// appears in the body.
func (h *Handle) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var data VerifyOTPRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}
	if err := validateOTP(data.OTP); err != nil {
		renderError(w, r, err)
		return
	}

	tokens, err := h.authService.VerifyLoginOTP(r.Context(), data.Email, data.OTP, data.Platform)
	if err != nil {
		renderError(w, r, err)
		return
	}

	cookieName := tg.RefreshTokenCookieName(data.Platform)
	if err := h.cookieSetter.SetCookie(w, cookieName, tokens.RefreshToken.Token, tokens.RefreshToken.Expiry); err != nil {
		renderError(w, r, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to set refresh cookie"))
		return
	}

	render.JSON(w, r, LoginTokensResponse{
		Message:     "Login successful",
		AccessToken: tokens.AccessToken.Token,
	})
}

// RefreshToken handles POST /refresh-token. The refresh token is read from
// the request body, falling back to the platform cookie.
func (h *Handle) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var data RefreshTokenRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if _, ok := user.ParsePlatform(data.Platform); !ok {
		renderError(w, r, apperr.Newf(apperr.ErrCodeInvalidPlatform, "unknown platform: %s", data.Platform))
		return
	}

	refreshToken := data.RefreshToken
	if refreshToken == "" {
		if cookie, err := r.Cookie(tg.RefreshTokenCookieName(data.Platform)); err == nil {
			refreshToken = cookie.Value
		}
	}
	if refreshToken == "" {
		renderError(w, r, apperr.New(apperr.ErrCodeTokenInvalid, "refresh token is required"))
		return
	}

	accessToken, err := h.authService.Refresh(r.Context(), refreshToken, data.Platform)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, LoginTokensResponse{
		Message:     "Token refreshed",
		AccessToken: accessToken.Token,
	})
}

// Logout handles POST /logout and clears the platform refresh cookie
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	var data LogoutRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.authService.Logout(r.Context(), data.Email, data.Platform); err != nil {
		renderError(w, r, err)
		return
	}

	if _, ok := user.ParsePlatform(data.Platform); ok {
		_ = h.cookieSetter.ClearCookie(w, tg.RefreshTokenCookieName(data.Platform))
	}

	render.JSON(w, r, MessageResponse{Message: "Logged out successfully"})
}

// ForgotPassword handles POST /forgot-password
func (h *Handle) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var data ForgotPasswordRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateEmail(data.Email); err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), data.Email); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, MessageResponse{Message: "Password reset instructions sent"})
}

// ResetPassword handles POST /reset-password
func (h *Handle) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var data ResetPasswordRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if data.Token == "" {
		renderError(w, r, apperr.New(apperr.ErrCodeInvalidInput, "token is required"))
		return
	}
	if err := validatePassword(data.NewPassword); err != nil {
		renderError(w, r, err)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), data.Token, data.NewPassword); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, MessageResponse{Message: "Password has been reset"})
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.GetCode(err)
	render.Status(r, apperr.MapErrorCodeToHTTPStatus(code))

	message := "internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Code != apperr.ErrCodeInternal {
		message = appErr.Message
	}
	render.JSON(w, r, ErrorResponse{Code: string(code), Message: message})
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.New(apperr.ErrCodeInvalidInput, "a valid email is required")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperr.Newf(apperr.ErrCodeInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func validateOTP(code string) error {
	if len(code) != 6 {
		return apperr.New(apperr.ErrCodeInvalidInput, "a 6-digit code is required")
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return apperr.New(apperr.ErrCodeInvalidInput, "a 6-digit code is required")
		}
	}
	return nil
}
