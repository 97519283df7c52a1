package usecase

import "errors"

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates too many failed logins for the identifier.
	ErrAccountLocked = errors.New("account temporarily locked due to too many failed login attempts")
	// ErrInvalidRefreshToken indicates the refresh token does not exist, expired, or was already rotated.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrEmailAlreadyRegistered indicates another account owns the email.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrPasswordPolicyViolation indicates the password does not satisfy complexity requirements.
	ErrPasswordPolicyViolation = errors.New("password does not meet complexity requirements")
	// ErrInvalidEmail indicates the registration email is empty or malformed.
	ErrInvalidEmail = errors.New("a valid email is required")
	// ErrUserNotFound indicates the authenticated principal no longer maps to a user.
	ErrUserNotFound = errors.New("user not found")
)
