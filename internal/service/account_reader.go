package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"auth-token-service/internal/models"
	redisrepo "auth-token-service/internal/repository/redis"
	"auth-token-service/internal/repository/scylla"
)

// AccountReader is the read-through path over the account projection cache
// and the account store.
type AccountReader struct {
	cache  AccountCache
	store  AccountStore
	logger *zap.Logger
}

func NewAccountReader(cache AccountCache, store AccountStore, logger *zap.Logger) *AccountReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountReader{cache: cache, store: store, logger: logger}
}

// ReadAccount returns the cached projection for accountID. On a miss it
// falls back to the store, matching on token membership rather than id
// alone. A nil account with a nil error means neither source had a record.
func (r *AccountReader) ReadAccount(ctx context.Context, accountID, encryptedToken string) (*models.Account, error) {
	account, err := r.cache.GetAccount(ctx, accountID)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, redisrepo.ErrCacheMiss):
	default:
		r.logger.Warn("Account cache unavailable, falling back to store",
			zap.String("account_id", accountID), zap.Error(err))
	}
	return r.fromStore(ctx, accountID, encryptedToken)
}

// GetAuthoritativeTokenSet returns the account only when encryptedToken is a
// member of its token set. A cached projection that lacks the token is
// confirmed against the store, since the projection may predate the event
// that assigned it. Lookup failures are returned as errors and never
// reported as absence.
func (r *AccountReader) GetAuthoritativeTokenSet(ctx context.Context, accountID, encryptedToken string) (*models.Account, error) {
	account, err := r.cache.GetAccount(ctx, accountID)
	switch {
	case err == nil:
		if account.HasToken(encryptedToken) {
			return account, nil
		}
		r.logger.Debug("Token not in cached projection, checking store", zap.String("account_id", accountID))
	case errors.Is(err, redisrepo.ErrCacheMiss):
	default:
		r.logger.Warn("Account cache unavailable, falling back to store",
			zap.String("account_id", accountID), zap.Error(err))
	}
	return r.fromStore(ctx, accountID, encryptedToken)
}

func (r *AccountReader) fromStore(ctx context.Context, accountID, encryptedToken string) (*models.Account, error) {
	account, err := r.store.GetAccountWithToken(ctx, accountID, encryptedToken)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, nil
		}
		r.logger.Error("Account store lookup failed", zap.String("account_id", accountID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}
	return account, nil
}
