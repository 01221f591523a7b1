package models

import (
	"fmt"
	"strings"
)

// Cache key layout shared by the read path, the publisher and the cache applier.

func AccountKey(accountID string) string {
	return "account:" + accountID
}

func AuthTokenKey(email, encryptedToken string) string {
	return fmt.Sprintf("auth_token:%s-%s", email, encryptedToken)
}

func OTPKey(email, encryptedOTP string, purpose OTPPurpose) string {
	return fmt.Sprintf("otp:%s-%s-%s", email, encryptedOTP, strings.ToLower(string(purpose)))
}

// RevokedRefreshTokenKey marks an explicitly revoked refresh token.
func RevokedRefreshTokenKey(accountID, encryptedToken string) string {
	return fmt.Sprintf("refresh_token:%s-%s", accountID, encryptedToken)
}

// ConsumedKey guards single use of the secret stored under key.
func ConsumedKey(key string) string {
	return "consumed:" + key
}
