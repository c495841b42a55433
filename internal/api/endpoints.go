package api

import "strings"

// Auth service routes, in net/http ServeMux pattern syntax.
const (
	AuthLogin        = "POST /auth/login"
	AuthVerifyMFA    = "POST /auth/verify-mfa"
	AuthResendOTP    = "POST /auth/resend-otp"
	AuthForgot       = "POST /auth/forgot-password"
	AuthVerifyReset  = "POST /auth/verify-reset-otp"
	AuthResetPass    = "POST /auth/reset-password"
	AuthRefreshToken = "POST /auth/refresh"
	AuthSetupTOTP    = "POST /auth/setup-totp"
	AuthConfirmTOTP  = "POST /auth/confirm-totp"
	AuthUpdateMFA    = "PUT /auth/mfa"
	AuthLogoutAll    = "POST /auth/logout-all"
	AuthMe           = "GET /auth/me"
	Health           = "GET /health"
)

// PublicEndpoints defines endpoints that don't require authentication
var PublicEndpoints = map[string]bool{
	AuthLogin:        true,
	AuthVerifyMFA:    true,
	AuthResendOTP:    true,
	AuthForgot:       true,
	AuthVerifyReset:  true,
	AuthResetPass:    true,
	AuthRefreshToken: true,
	Health:           true,
	AuthSetupTOTP:    false,
	AuthConfirmTOTP:  false,
	AuthUpdateMFA:    false,
	AuthLogoutAll:    false,
	AuthMe:           false,
}

// IsProtected reports whether pattern needs a bearer token. Unknown
// patterns are protected.
func IsProtected(pattern string) bool {
	isPublic, exists := PublicEndpoints[pattern]
	return !exists || !isPublic
}

// Path strips the method from a route pattern.
func Path(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}
