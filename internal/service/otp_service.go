package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"auth-token-service/internal/config"
	"auth-token-service/internal/models"
	redisrepo "auth-token-service/internal/repository/redis"
	"auth-token-service/internal/util"
)

// OTPService exchanges a one-time password for a short-lived auth token that
// gates a single sensitive action.
type OTPService struct {
	cfg       config.TokenConfig
	secrets   SecretCache
	encryptor Encryptor
	publisher EventPublisher
	auditor   Auditor
	now       func() time.Time
	logger    *zap.Logger
}

type OTPOption func(*OTPService)

// WithOTPClock replaces time.Now for expiry checks.
func WithOTPClock(now func() time.Time) OTPOption {
	return func(s *OTPService) { s.now = now }
}

func NewOTPService(
	cfg config.TokenConfig,
	secrets SecretCache,
	encryptor Encryptor,
	publisher EventPublisher,
	auditor Auditor,
	logger *zap.Logger,
	opts ...OTPOption,
) *OTPService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	s := &OTPService{
		cfg:       cfg,
		secrets:   secrets,
		encryptor: encryptor,
		publisher: publisher,
		auditor:   auditor,
		now:       time.Now,
		logger:    util.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyOTP consumes the OTP for (email, purpose). It fails with ErrNotFound
// when there is no such OTP or it was already used, and with ErrExpired once
// its expiry has passed.
func (s *OTPService) VerifyOTP(ctx context.Context, email, otp, purpose string) error {
	email = util.NormalizeEmail(email)
	if email == "" || otp == "" {
		return fmt.Errorf("%w: email and otp are required", ErrInvalidInput)
	}
	p, err := models.ParseOTPPurpose(purpose)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	encrypted := s.encryptor.Encrypt(otp)
	key := models.OTPKey(email, encrypted, p)

	record, err := s.secrets.GetOTP(ctx, email, encrypted, p)
	if err != nil {
		if errors.Is(err, redisrepo.ErrCacheMiss) {
			return ErrNotFound
		}
		s.logger.Error("OTP lookup failed", util.Email(email), zap.Error(err))
		return ErrServiceUnavailable
	}

	now := s.now().UTC()
	if !now.Before(record.ExpiresOn) {
		s.publisher.Invalidate(ctx, key, email)
		return ErrExpired
	}

	if err := s.consume(ctx, key, email, record.ExpiresOn.Sub(now)); err != nil {
		return err
	}
	s.logger.Info("OTP verified", util.Email(email), zap.String("purpose", string(p)))
	return nil
}

// IssueAuthToken mints an opaque auth token for email. Only its encrypted
// form leaves the process.
func (s *OTPService) IssueAuthToken(ctx context.Context, email string) (string, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	raw := make([]byte, s.cfg.AuthTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		s.logger.Error("Failed to generate auth token", zap.Error(err))
		return "", ErrServiceUnavailable
	}
	authToken := hex.EncodeToString(raw)

	record := models.AuthToken{
		Email:  email,
		Token:  s.encryptor.Encrypt(authToken),
		Expiry: s.now().UTC().Add(s.cfg.AuthTokenTTL),
	}
	if !s.publisher.CacheAuthToken(ctx, record, s.cfg.AuthTokenTTL) {
		return "", ErrServiceUnavailable
	}

	s.auditor.Record(ctx, models.SecurityEventAuthTokenIssue, "", "", util.MaskEmail(email))
	return authToken, nil
}

// VerifyOTPAndIssueAuthToken is the two step exchange behind the OTP
// endpoint. The OTP is consumed even when issuing the auth token fails.
func (s *OTPService) VerifyOTPAndIssueAuthToken(ctx context.Context, email, otp, purpose string) (string, error) {
	if err := s.VerifyOTP(ctx, email, otp, purpose); err != nil {
		return "", err
	}
	return s.IssueAuthToken(ctx, email)
}

// VerifyAuthToken consumes an auth token. Unknown, used and expired tokens
// all fail with ErrNotFound.
func (s *OTPService) VerifyAuthToken(ctx context.Context, email, authToken string) error {
	email = util.NormalizeEmail(email)
	if email == "" || authToken == "" {
		return fmt.Errorf("%w: email and auth token are required", ErrInvalidInput)
	}

	encrypted := s.encryptor.Encrypt(authToken)
	key := models.AuthTokenKey(email, encrypted)

	record, err := s.secrets.GetAuthToken(ctx, email, encrypted)
	if err != nil {
		if errors.Is(err, redisrepo.ErrCacheMiss) {
			return ErrNotFound
		}
		s.logger.Error("Auth token lookup failed", util.Email(email), zap.Error(err))
		return ErrServiceUnavailable
	}

	now := s.now().UTC()
	if !now.Before(record.Expiry) {
		s.publisher.Invalidate(ctx, key, email)
		return ErrNotFound
	}

	if err := s.consume(ctx, key, email, record.Expiry.Sub(now)); err != nil {
		return err
	}
	s.auditor.Record(ctx, models.SecurityEventAuthTokenUsed, "", "", util.MaskEmail(email))
	s.logger.Info("Auth token verified", util.Email(email))
	return nil
}

// consume claims key so a second presentation fails even before the
// invalidation event has been applied, then publishes the invalidation.
func (s *OTPService) consume(ctx context.Context, key, email string, remaining time.Duration) error {
	claimed, err := s.secrets.ClaimOnce(ctx, key, remaining)
	if err != nil {
		s.logger.Error("Single use claim failed", util.Email(email), zap.Error(err))
		return ErrServiceUnavailable
	}
	if !claimed {
		return ErrNotFound
	}
	s.publisher.Invalidate(ctx, key, email)
	return nil
}
