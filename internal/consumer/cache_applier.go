// Package consumer applies published events to the cache and the account
// store. Handlers return an error only for failures worth retrying;
// malformed messages are logged and dropped.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-token-service/internal/models"
)

// CacheStore is satisfied by repository/redis.CacheWriter.
type CacheStore interface {
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type CacheApplier struct {
	cache  CacheStore
	logger *zap.Logger
}

func NewCacheApplier(cache CacheStore, logger *zap.Logger) *CacheApplier {
	return &CacheApplier{cache: cache, logger: logger}
}

func (a *CacheApplier) HandleCache(ctx context.Context, msg kafka.Message) error {
	var env models.CacheEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.Key == "" {
		a.skip(msg, "malformed cache envelope", err)
		return nil
	}
	return a.cache.Set(ctx, env.Key, env.Data, time.Duration(env.TTLSeconds)*time.Second)
}

func (a *CacheApplier) HandleInvalidate(ctx context.Context, msg kafka.Message) error {
	var ev models.InvalidateCache
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Key == "" {
		a.skip(msg, "malformed invalidate event", err)
		return nil
	}
	return a.cache.Delete(ctx, ev.Key)
}

func (a *CacheApplier) skip(msg kafka.Message, reason string, err error) {
	a.logger.Warn("Skipping message",
		zap.String("reason", reason),
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))
}
