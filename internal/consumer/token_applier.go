package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-token-service/internal/client"
	"auth-token-service/internal/models"
	"auth-token-service/internal/repository/scylla"
)

// TokenSetStore is the write side of the account store.
type TokenSetStore interface {
	UpdateTokenSet(ctx context.Context, accountID string, mutate func(*models.Account) bool) (*models.Account, bool, error)
}

// ProjectionStore is satisfied by repository/redis.CacheWriter.
type ProjectionStore interface {
	CacheStore
	SetAccount(ctx context.Context, account *models.Account, ttl time.Duration) error
}

// TokenSetApplier applies session events to the authoritative token set and
// then refreshes the cached account projection.
type TokenSetApplier struct {
	store      TokenSetStore
	cache      ProjectionStore
	accountTTL time.Duration
	revokedTTL time.Duration
	logger     *zap.Logger
}

func NewTokenSetApplier(store TokenSetStore, cache ProjectionStore, accountTTL, revokedTTL time.Duration, logger *zap.Logger) *TokenSetApplier {
	return &TokenSetApplier{store: store, cache: cache, accountTTL: accountTTL, revokedTTL: revokedTTL, logger: logger}
}

func (a *TokenSetApplier) HandleAssign(ctx context.Context, msg kafka.Message) error {
	var ev models.AssignToken
	if !a.decode(msg, &ev) {
		return nil
	}
	return a.apply(ctx, msg, ev.ID, func(acc *models.Account) bool {
		return acc.AssignToken(ev.Token, ev.DeviceIP)
	})
}

func (a *TokenSetApplier) HandleUpdate(ctx context.Context, msg kafka.Message) error {
	var ev models.UpdateToken
	if !a.decode(msg, &ev) {
		return nil
	}
	return a.apply(ctx, msg, ev.ID, func(acc *models.Account) bool {
		return acc.ReplaceToken(ev.OldToken, ev.NewToken)
	})
}

func (a *TokenSetApplier) HandleRevoke(ctx context.Context, msg kafka.Message) error {
	var ev models.RevokeRefreshToken
	if !a.decode(msg, &ev) {
		return nil
	}
	if err := a.cache.Set(ctx, models.RevokedRefreshTokenKey(ev.ID, ev.Token), []byte("1"), a.revokedTTL); err != nil {
		return err
	}
	return a.apply(ctx, msg, ev.ID, func(acc *models.Account) bool {
		return acc.RemoveToken(ev.Token)
	})
}

func (a *TokenSetApplier) HandleReused(ctx context.Context, msg kafka.Message) error {
	var ev models.ReusedToken
	if !a.decode(msg, &ev) {
		return nil
	}
	return a.apply(ctx, msg, ev.ID, func(acc *models.Account) bool {
		return acc.ClearTokens()
	})
}

func (a *TokenSetApplier) apply(ctx context.Context, msg kafka.Message, accountID string, mutate func(*models.Account) bool) error {
	if accountID == "" {
		a.logger.Warn("Skipping event without account id", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset))
		return nil
	}

	account, changed, err := a.store.UpdateTokenSet(ctx, accountID, mutate)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			a.logger.Warn("Token event for unknown account", zap.String("account_id", accountID), zap.String("topic", msg.Topic))
			return nil
		}
		if errors.Is(err, scylla.ErrRejectedStatement) {
			return client.Permanent(err)
		}
		return err
	}
	if !changed {
		a.logger.Debug("Token event was a no-op", zap.String("account_id", accountID), zap.String("topic", msg.Topic))
	}

	return a.cache.SetAccount(ctx, account, a.accountTTL)
}

func (a *TokenSetApplier) decode(msg kafka.Message, target interface{}) bool {
	if err := json.Unmarshal(msg.Value, target); err != nil {
		a.logger.Warn("Skipping malformed token event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return false
	}
	return true
}
