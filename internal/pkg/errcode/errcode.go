package errcode

// Codes returned in the "code" field of error responses.
const (
	Unknown          = "internal"
	Unauthorized     = "unauthorized"
	Forbidden        = "forbidden"
	NotFound         = "not_found"
	Invalid          = "invalid"
	Conflict         = "conflict"
	TooMany          = "too_many_requests"
	EmailNotVerified = "email_not_verified"
	TokenInvalid     = "token_invalid"
	TokenExpired     = "token_expired"
	NotifyFailed     = "notify_failed"
	WeakPassword     = "weak_password"
	PasswordMismatch = "password_mismatch"
	PasswordReused   = "password_reused"
)
