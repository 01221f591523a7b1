package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auth-token-service/internal/client"
	"auth-token-service/internal/models"
	"auth-token-service/internal/util"
)

const maxProjectionAttempts = 3

// CacheWriter is the only component that mutates the cache; it is driven
// by the cache applier consumer.
type CacheWriter struct {
	client  *client.RedisClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewCacheWriter(client *client.RedisClient, timeout time.Duration, logger *zap.Logger) *CacheWriter {
	return &CacheWriter{client: client, timeout: timeout, logger: util.OrNop(logger)}
}

func (w *CacheWriter) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := w.client.WithContext(ctx, w.timeout)
	defer cancel()

	if err := w.client.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to set %s: %w", util.CacheKeyPrefix(key), err)
	}
	w.logger.Debug("Cache entry written", util.CacheKey(key), zap.Duration("ttl", ttl))
	return nil
}

// SetAccount writes the account projection unless the cached copy already
// carries a higher version. Projections for one account are written by
// consumers of several topics, so they can land out of order.
func (w *CacheWriter) SetAccount(ctx context.Context, account *models.Account, ttl time.Duration) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", account.ID, err)
	}

	ctx, cancel := w.client.WithContext(ctx, w.timeout)
	defer cancel()

	key := models.AccountKey(account.ID)
	var cachedVersion int
	stale := false
	for attempt := 0; attempt < maxProjectionAttempts; attempt++ {
		err = w.client.Client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, goredis.Nil):
			case err != nil:
				return err
			default:
				var cached models.Account
				if json.Unmarshal(raw, &cached) == nil && cached.Version > account.Version {
					cachedVersion, stale = cached.Version, true
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, ttl)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", util.CacheKeyPrefix(key), err)
	}

	if stale {
		w.logger.Debug("Stale account projection skipped",
			util.AccountID(account.ID),
			zap.Int("version", account.Version),
			zap.Int("cached_version", cachedVersion))
		return nil
	}
	w.logger.Debug("Cache entry written", util.CacheKey(key), zap.Duration("ttl", ttl))
	return nil
}

func (w *CacheWriter) Delete(ctx context.Context, key string) error {
	ctx, cancel := w.client.WithContext(ctx, w.timeout)
	defer cancel()

	if err := w.client.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", util.CacheKeyPrefix(key), err)
	}
	w.logger.Debug("Cache entry invalidated", util.CacheKey(key))
	return nil
}
