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
)

// ErrCacheMiss means the key is absent. Any other error is an infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// AccountCache reads the account projections written by the cache applier.
type AccountCache struct {
	client  *client.RedisClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewAccountCache(client *client.RedisClient, timeout time.Duration, logger *zap.Logger) *AccountCache {
	return &AccountCache{client: client, timeout: timeout, logger: logger}
}

func (c *AccountCache) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	ctx, cancel := c.client.WithContext(ctx, c.timeout)
	defer cancel()

	key := models.AccountKey(accountID)
	raw, err := c.client.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			c.logger.Debug("Account not found in cache", zap.String("account_id", accountID))
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get account from cache: %w", err)
	}

	var account models.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("failed to decode cached account %s: %w", accountID, err)
	}
	return &account, nil
}
