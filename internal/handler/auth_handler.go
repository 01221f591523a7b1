package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"auth-token-service/internal/models"
	"auth-token-service/internal/service"
	"auth-token-service/internal/token"
	"auth-token-service/internal/util"
)

// SessionAPI is implemented by service.SessionService.
type SessionAPI interface {
	Login(ctx context.Context, req service.LoginRequest) (*service.TokenResponse, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (*token.Claims, error)
	Rotate(ctx context.Context, refreshToken, deviceIP string) (*service.TokenResponse, error)
	Logout(ctx context.Context, refreshToken, deviceIP string) error
	LogoutAll(ctx context.Context, accessToken, deviceIP string) error
}

// OTPAPI is implemented by service.OTPService.
type OTPAPI interface {
	VerifyOTPAndIssueAuthToken(ctx context.Context, email, otp, purpose string) (string, error)
	VerifyAuthToken(ctx context.Context, email, authToken string) error
}

// AuthHandler handles HTTP requests for session and OTP operations
type AuthHandler struct {
	sessions  SessionAPI
	otps      OTPAPI
	tokenType string
	logger    *zap.Logger
}

func NewAuthHandler(sessions SessionAPI, otps OTPAPI, tokenType string, logger *zap.Logger) *AuthHandler {
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &AuthHandler{
		sessions:  sessions,
		otps:      otps,
		tokenType: tokenType,
		logger:    util.OrNop(logger),
	}
}

// Response is the error body. Success bodies keep the shapes existing
// clients already parse.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type verifyOTPRequest struct {
	Email           string `json:"email"`
	OneTimePassword string `json:"one_time_password"`
	Purpose         string `json:"purpose"`
}

type verifyAuthTokenRequest struct {
	Email     string `json:"email"`
	AuthToken string `json:"auth_token"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Get("/access-token/verify/", h.VerifyAccessToken)
		r.Get("/access-token/refresh/", h.RefreshAccessToken)
		r.Post("/login/email/", h.LoginWithEmail)
		r.Post("/login/phone-number/", h.LoginWithPhoneNumber)
		r.Post("/otp/verify/", h.VerifyOTP)
		r.Post("/auth-token/verify/", h.VerifyAuthToken)
		r.Post("/logout/", h.Logout)
		r.Post("/logout/all/", h.LogoutAll)
	})
}

// VerifyAccessToken returns the claims of the bearer access token.
func (h *AuthHandler) VerifyAccessToken(w http.ResponseWriter, r *http.Request) {
	claims, err := h.sessions.VerifyAccessToken(r.Context(), h.bearerToken(r))
	if err != nil {
		h.respondWithError(w, err, "Could not validate credentials")
		return
	}
	h.respondWithJSON(w, http.StatusOK, claims)
}

// RefreshAccessToken rotates the bearer refresh token.
func (h *AuthHandler) RefreshAccessToken(w http.ResponseWriter, r *http.Request) {
	resp, err := h.sessions.Rotate(r.Context(), h.bearerToken(r), clientIP(r))
	if err != nil {
		h.respondWithError(w, err, "Failed to refresh tokens")
		return
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) LoginWithEmail(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.AuthTypeEmail)
}

func (h *AuthHandler) LoginWithPhoneNumber(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, models.AuthTypePhone)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, authType models.AuthType) {
	startTime := time.Now()

	var req service.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}
	req.AuthType = authType
	req.DeviceIP = clientIP(r)

	resp, err := h.sessions.Login(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, resp)
	h.logger.Debug("Login via HTTP",
		util.String("auth_type", string(authType)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP consumes an OTP and returns a single use auth token.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}

	authToken, err := h.otps.VerifyOTPAndIssueAuthToken(r.Context(), req.Email, req.OneTimePassword, req.Purpose)
	if err != nil {
		h.respondWithError(w, err, "Invalid one-time-password")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"auth-token": authToken})
}

func (h *AuthHandler) VerifyAuthToken(w http.ResponseWriter, r *http.Request) {
	var req verifyAuthTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid request body")
		return
	}

	if err := h.otps.VerifyAuthToken(r.Context(), req.Email, req.AuthToken); err != nil {
		h.respondWithError(w, err, "Invalid auth token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"msg": "Valid auth token"})
}

// Logout revokes the bearer refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), h.bearerToken(r), clientIP(r)); err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"msg": "Logout successful."})
}

// LogoutAll revokes every session of the bearer access token's account.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.LogoutAll(r.Context(), h.bearerToken(r), clientIP(r)); err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"msg": "Logged out of all devices."})
}

// bearerToken returns "" unless the header is "<tokenType> <token>".
func (h *AuthHandler) bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], h.tokenType) {
		return ""
	}
	return parts[1]
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(target)
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status code. Only service sentinel
// messages reach the client.
func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error, message string) {
	statusCode := getStatusCode(err)
	public := err.Error()
	if statusCode >= http.StatusInternalServerError {
		public = http.StatusText(statusCode)
	}
	if statusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", h.tokenType)
	}

	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, Response{Success: false, Error: public, Message: message})
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrCredential):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrReusedToken):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDeviceLimitExceeded),
		errors.Is(err, service.ErrEmailNotVerified),
		errors.Is(err, service.ErrPhoneNotVerified),
		errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrExpired),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
