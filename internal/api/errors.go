package api

// Machine-readable codes carried in the "code" field of error bodies.
// Clients branch on these, never on the human-readable message.
const (
	CodeValidation        = "validation_failed"
	CodeBadRequest        = "bad_request"
	CodeInvalidCredential = "invalid_credentials"
	CodeChallengeExpired  = "challenge_expired"
	CodeInvalidCode       = "invalid_code"
	CodeAttemptsExhausted = "attempts_exhausted"
	CodeInvalidToken      = "invalid_token"
	CodeRateLimited       = "rate_limited"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal_error"
)
