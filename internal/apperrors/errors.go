package apperrors

import (
	"errors"
	"fmt"
)

// Credential lifecycle errors
// Callers are expected to match them with errors.Is, services wrap them with context
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token is expired")
	ErrTokenRevoked     = errors.New("token is revoked")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyUsed      = errors.New("already used")
	ErrAttemptsExceeded = errors.New("maximum verification attempts exceeded")
	ErrRateLimited      = errors.New("too many requests, try again later")
	ErrForbidden        = errors.New("user is deactivated")
)

// Not found errors for particular records
// All of them match ErrNotFound too
var (
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrRefreshTokenNotFound = fmt.Errorf("refresh token %w", ErrNotFound)
	ErrOTPNotFound          = fmt.Errorf("otp %w", ErrNotFound)
	ErrResetTokenNotFound   = fmt.Errorf("reset token %w", ErrNotFound)
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordNotSet     = errors.New("account uses social login, password is not set")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrNotVerified        = errors.New("email is not verified")
)
