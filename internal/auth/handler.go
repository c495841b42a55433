package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/api"
)

const maxBodyBytes = 1 << 16

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

// Routes maps api patterns to handlers.
func (h *Handler) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		api.AuthLogin:        h.Login,
		api.AuthVerifyMFA:    h.VerifyMFA,
		api.AuthResendOTP:    h.ResendOTP,
		api.AuthForgot:       h.ForgotPassword,
		api.AuthVerifyReset:  h.VerifyResetOTP,
		api.AuthResetPass:    h.ResetPassword,
		api.AuthRefreshToken: h.Refresh,
		api.AuthSetupTOTP:    h.SetupTOTP,
		api.AuthConfirmTOTP:  h.ConfirmTOTP,
		api.AuthUpdateMFA:    h.UpdateMFA,
		api.AuthLogoutAll:    h.LogoutAll,
		api.AuthMe:           h.Me,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	MFARequired          bool      `json:"mfaRequired"`
	AccessToken          string    `json:"accessToken"`
	RefreshToken         string    `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

type challengeResponse struct {
	MFARequired bool      `json:"mfaRequired"`
	TempToken   string    `json:"tempToken"`
	MFAMethod   MFAMethod `json:"mfaMethod"`
}

type verifyMFARequest struct {
	TempToken string    `json:"tempToken"`
	OTP       string    `json:"otp"`
	Method    MFAMethod `json:"method"`
}

type resendRequest struct {
	TempToken string `json:"tempToken"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type verifyResetRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetTokenResponse struct {
	ResetToken string `json:"resetToken"`
}

type resetPasswordRequest struct {
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type setupTOTPRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type setupTOTPResponse struct {
	QRCode string `json:"qrCode"`
	Secret string `json:"secret"`
}

type confirmTOTPRequest struct {
	OTP string `json:"otp"`
}

type updateMFARequest struct {
	UserID     string    `json:"userId"`
	MFAEnabled bool      `json:"mfaEnabled"`
	MFAMethod  MFAMethod `json:"mfaMethod"`
}

type userResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	MFAEnabled bool      `json:"mfaEnabled"`
	MFAMethod  MFAMethod `json:"mfaMethod"`
}

type messageResponse struct {
	Message string `json:"message"`
}

const forgotPasswordAck = "If an account exists for this email, a reset code has been sent."

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, challengeResponse{
			MFARequired: true,
			TempToken:   result.TempToken,
			MFAMethod:   result.MFAMethod,
		})
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(result.Tokens))
}

func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.service.VerifySecondFactor(r.Context(), req.TempToken, req.OTP, req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(tokens))
}

func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResendOTP(r.Context(), req.TempToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "A new code has been sent."})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: forgotPasswordAck})
}

func (h *Handler) VerifyResetOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyResetRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.service.VerifyResetCode(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetTokenResponse{ResetToken: token})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.ResetToken, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated. Please sign in."})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(tokens))
}

func (h *Handler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req setupTOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = actor.UserID
	}

	setup, err := h.service.SetupTOTP(r.Context(), actor, req.UserID, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setupTOTPResponse{QRCode: setup.QRCode, Secret: setup.Secret})
}

func (h *Handler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req confirmTOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.ConfirmTOTP(r.Context(), actor.UserID, req.OTP); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Authenticator app enabled."})
}

func (h *Handler) UpdateMFA(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req updateMFARequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = actor.UserID
	}

	user, err := h.service.UpdateMFASettings(r.Context(), actor, req.UserID, req.MFAEnabled, req.MFAMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.LogoutAll(r.Context(), actor.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Signed out everywhere."})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func newTokenResponse(tokens *TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:          tokens.AccessToken,
		RefreshToken:         tokens.RefreshToken,
		AccessTokenExpiresAt: tokens.AccessExpiresAt,
	}
}

func newUserResponse(u *User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		MFAEnabled: u.MFAEnabled,
		MFAMethod:  u.MFAMethod,
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	claims, err := GetClaimsFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrInvalidToken.Error(), Code: api.CodeInvalidToken})
		return Actor{}, false
	}
	return Actor{UserID: claims.UserID(), Role: claims.Role}, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: api.CodeBadRequest})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// writeError maps service errors to status codes. Anything unrecognised is
// logged and reported as a generic internal error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: api.CodeValidation, Field: verr.Field})
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: api.CodeRateLimited})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: api.CodeForbidden})
	case errors.Is(err, ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: api.CodeNotFound})
	default:
		if code, ok := unauthorizedCode(err); ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: code})
			return
		}
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: api.CodeInternal})
	}
}

var unauthorizedCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, api.CodeInvalidCredential},
	{ErrExpiredOrInvalidChallenge, api.CodeChallengeExpired},
	{ErrInvalidCode, api.CodeInvalidCode},
	{ErrAttemptsExhausted, api.CodeAttemptsExhausted},
	{ErrInvalidOrExpiredCode, api.CodeInvalidCode},
	{ErrInvalidToken, api.CodeInvalidToken},
}

func unauthorizedCode(err error) (string, bool) {
	for _, c := range unauthorizedCodes {
		if errors.Is(err, c.err) {
			return c.code, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
