package service

import "errors"

var (
	// ErrCredential covers a missing, malformed, expired or revoked token.
	ErrCredential = errors.New("could not validate credentials")
	// ErrReusedToken means a rotated-away refresh token was presented. Every
	// session of the account has been revoked.
	ErrReusedToken         = errors.New("reused refresh token detected")
	ErrDeviceLimitExceeded = errors.New("maximum number of active devices reached")
	ErrNotFound            = errors.New("not found")
	ErrExpired             = errors.New("expired")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrPhoneNotVerified    = errors.New("phone number not verified")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidPassword     = errors.New("invalid password")
	// ErrServiceUnavailable hides infrastructure failures from callers.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)
