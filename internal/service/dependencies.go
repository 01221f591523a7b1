package service

import (
	"context"
	"time"

	"auth-token-service/internal/models"
)

// AccountStore is the read side of the authoritative account store.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Account, error)
	GetAccountWithToken(ctx context.Context, accountID, encryptedToken string) (*models.Account, error)
}

type AccountCache interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

type SecretCache interface {
	GetOTP(ctx context.Context, email, encryptedOTP string, purpose models.OTPPurpose) (*models.OTPRecord, error)
	GetAuthToken(ctx context.Context, email, encryptedToken string) (*models.AuthToken, error)
	IsRefreshTokenRevoked(ctx context.Context, accountID, encryptedToken string) (bool, error)
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventPublisher is satisfied by events.Publisher. Every method reports
// whether the event reached the broker.
type EventPublisher interface {
	CacheAuthToken(ctx context.Context, record models.AuthToken, ttl time.Duration) bool
	Invalidate(ctx context.Context, key, partitionKey string) bool
	AssignToken(ctx context.Context, ev models.AssignToken) bool
	UpdateToken(ctx context.Context, ev models.UpdateToken) bool
	RevokeRefreshToken(ctx context.Context, ev models.RevokeRefreshToken) bool
	RevokeAllTokens(ctx context.Context, accountID string) bool
	Logout(ctx context.Context, ev models.Logout, partitionKey string) bool
}

// Encryptor must be deterministic: the same plaintext always yields the
// same ciphertext, which is what makes it usable as a lookup key.
type Encryptor interface {
	Encrypt(plaintext string) string
}

type PasswordVerifier interface {
	Verify(hashed, password string) (bool, error)
}

type Auditor interface {
	Record(ctx context.Context, eventType models.SecurityEventType, accountID, ipAddress, details string)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, models.SecurityEventType, string, string, string) {}
