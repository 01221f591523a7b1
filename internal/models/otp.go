package models

import (
	"fmt"
	"strings"
	"time"
)

type OTPPurpose string

const (
	OTPPurposeEmailVerification       OTPPurpose = "email_verification"
	OTPPurposePhoneVerification       OTPPurpose = "phone_verification"
	OTPPurposeForgotPassword          OTPPurpose = "forgot_password"
	OTPPurposeResetPassword           OTPPurpose = "reset_password"
	OTPPurposeTransactionVerification OTPPurpose = "transaction_verification"
)

// ParseOTPPurpose accepts any casing; cache keys always use the lowercase form.
func ParseOTPPurpose(s string) (OTPPurpose, error) {
	p := OTPPurpose(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case OTPPurposeEmailVerification,
		OTPPurposePhoneVerification,
		OTPPurposeForgotPassword,
		OTPPurposeResetPassword,
		OTPPurposeTransactionVerification:
		return p, nil
	}
	return "", fmt.Errorf("unknown otp purpose %q", s)
}

// OTPRecord is written to the cache by the OTP issuing service.
type OTPRecord struct {
	Purpose     OTPPurpose `json:"purpose"`
	Firstname   string     `json:"firstname"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	OTP         string     `json:"otp"`
	CreatedOn   time.Time  `json:"created_on"`
	ExpiresOn   time.Time  `json:"expires_on"`
}

// AuthToken is the cached record behind an elevated auth token. Token holds
// the encrypted value.
type AuthToken struct {
	Email  string    `json:"email"`
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

type AuthType string

const (
	AuthTypeEmail    AuthType = "email"
	AuthTypeUsername AuthType = "username"
	AuthTypePhone    AuthType = "phone"
)
