package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"auth-token-service/internal/client"
	"auth-token-service/internal/models"
	"auth-token-service/internal/util"
)

// SecretCache looks up OTPs, auth tokens and revocation markers by their
// encrypted key material. It never sees plaintext secrets.
type SecretCache struct {
	client  *client.RedisClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewSecretCache(client *client.RedisClient, timeout time.Duration, logger *zap.Logger) *SecretCache {
	return &SecretCache{client: client, timeout: timeout, logger: logger}
}

func (c *SecretCache) GetOTP(ctx context.Context, email, encryptedOTP string, purpose models.OTPPurpose) (*models.OTPRecord, error) {
	var record models.OTPRecord
	if err := c.getJSON(ctx, models.OTPKey(email, encryptedOTP, purpose), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *SecretCache) GetAuthToken(ctx context.Context, email, encryptedToken string) (*models.AuthToken, error) {
	var record models.AuthToken
	if err := c.getJSON(ctx, models.AuthTokenKey(email, encryptedToken), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *SecretCache) IsRefreshTokenRevoked(ctx context.Context, accountID, encryptedToken string) (bool, error) {
	ctx, cancel := c.client.WithContext(ctx, c.timeout)
	defer cancel()

	revoked, err := c.client.Exists(ctx, models.RevokedRefreshTokenKey(accountID, encryptedToken))
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return revoked, nil
}

// ClaimOnce returns true for exactly one caller per key until ttl elapses.
// It closes the window between a successful lookup and the invalidation
// event being applied. This SETNX guard is the only cache write made from
// the request path; every other mutation goes through the cache applier.
func (c *SecretCache) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.client.WithContext(ctx, c.timeout)
	defer cancel()

	if ttl <= 0 {
		ttl = time.Minute
	}
	claimed, err := c.client.SetNX(ctx, models.ConsumedKey(key), time.Now().UTC().Unix(), ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", util.CacheKeyPrefix(key), err)
	}
	if !claimed {
		c.logger.Warn("Secret already consumed", util.CacheKey(key))
	}
	return claimed, nil
}

func (c *SecretCache) getJSON(ctx context.Context, key string, target interface{}) error {
	ctx, cancel := c.client.WithContext(ctx, c.timeout)
	defer cancel()

	raw, err := c.client.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to read %s from cache: %w", util.CacheKeyPrefix(key), err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", util.CacheKeyPrefix(key), err)
	}
	return nil
}
