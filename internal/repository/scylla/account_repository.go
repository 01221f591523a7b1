package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"auth-token-service/internal/bucketing"
	"auth-token-service/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrConcurrentUpdate means the compare-and-set kept losing to other writers.
	ErrConcurrentUpdate = errors.New("concurrent account update")
	// ErrRejectedStatement means Scylla refused the statement itself, so
	// sending it again cannot succeed.
	ErrRejectedStatement = errors.New("statement rejected by scylla")
)

const maxCASAttempts = 5

// AccountRepository is the document-store contract the auth core relies on.
type AccountRepository interface {
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Account, error)
	// GetAccountWithToken returns the account only if encryptedToken is in its token set.
	GetAccountWithToken(ctx context.Context, accountID, encryptedToken string) (*models.Account, error)
	// UpdateTokenSet applies mutate under optimistic concurrency on the version column.
	UpdateTokenSet(ctx context.Context, accountID string, mutate func(*models.Account) bool) (*models.Account, bool, error)
	HealthCheck(ctx context.Context) error
}

type ScyllaAccountRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
	logger  *zap.Logger
}

var _ AccountRepository = (*ScyllaAccountRepository)(nil)

func NewAccountRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, logger *zap.Logger) *ScyllaAccountRepository {
	return &ScyllaAccountRepository{client: client, buckets: buckets, logger: logger}
}

func (r *ScyllaAccountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	bucket := r.buckets.AccountBucket(accountID)
	account, _, err := r.scanAccount(ctx, r.client.Statements.GetAccountByID, bucket, accountID)
	return account, err
}

func (r *ScyllaAccountRepository) GetAccountWithToken(ctx context.Context, accountID, encryptedToken string) (*models.Account, error) {
	bucket := r.buckets.AccountBucket(accountID)
	account, _, err := r.scanAccount(ctx, r.client.Statements.GetAccountWithToken, bucket, accountID, encryptedToken)
	return account, err
}

func (r *ScyllaAccountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var accountID string
	if err := r.client.ScanWithRetry(ctx, r.client.Statements.GetAccountIDByEmail, []interface{}{email}, &accountID); err != nil {
		return nil, r.lookupError("email", err)
	}
	return r.GetAccountByID(ctx, accountID)
}

func (r *ScyllaAccountRepository) GetAccountByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Account, error) {
	var accountID string
	if err := r.client.ScanWithRetry(ctx, r.client.Statements.GetAccountIDByPhone, []interface{}{phoneNumber}, &accountID); err != nil {
		return nil, r.lookupError("phone_number", err)
	}
	return r.GetAccountByID(ctx, accountID)
}

func (r *ScyllaAccountRepository) UpdateTokenSet(ctx context.Context, accountID string, mutate func(*models.Account) bool) (*models.Account, bool, error) {
	bucket := r.buckets.AccountBucket(accountID)

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		account, versioned, err := r.scanAccount(ctx, r.client.Statements.GetAccountByID, bucket, accountID)
		if err != nil {
			return nil, false, err
		}
		if !mutate(account) {
			return account, false, nil
		}

		stmt, args := tokenSetUpdate(r.client.Statements, account, bucket, versioned)
		var currentVersion int
		applied, err := r.client.Query(ctx, stmt, args...).ScanCAS(&currentVersion)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update token set: %w", classifyWriteError(err))
		}
		if applied {
			account.Version++
			return account, true, nil
		}

		r.logger.Debug("Token set version conflict, retrying",
			zap.String("account_id", accountID),
			zap.Int("expected_version", account.Version),
			zap.Bool("versioned", versioned),
			zap.Int("current_version", currentVersion),
			zap.Int("attempt", attempt))
	}
	return nil, false, ErrConcurrentUpdate
}

// tokenSetUpdate builds the conditional write for account's token set.
// Rows created before the version column existed hold null there, and null
// never compares equal to 0, so they are matched with IF version = null.
func tokenSetUpdate(st Statements, account *models.Account, bucket int, versioned bool) (string, []interface{}) {
	args := []interface{}{
		account.Tokens, account.ActiveDevices, account.ActiveDeviceCount, account.Version + 1,
		bucket, account.ID,
	}
	if !versioned {
		return st.UpdateTokenSetIfUnversioned, args
	}
	return st.UpdateTokenSetIfMatch, append(args, account.Version)
}

func classifyWriteError(err error) error {
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeSyntax, gocql.ErrCodeInvalid, gocql.ErrCodeUnauthorized:
			return fmt.Errorf("%w: %w", ErrRejectedStatement, err)
		}
	}
	return err
}

func (r *ScyllaAccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// scanAccount also reports whether the row's version column is set.
func (r *ScyllaAccountRepository) scanAccount(ctx context.Context, stmt string, args ...interface{}) (*models.Account, bool, error) {
	var (
		bucket   int
		roleName string
		version  *int
		account  models.Account
	)

	err := r.client.ScanWithRetry(ctx, stmt, args,
		&bucket, &account.ID, &account.Email, &account.Firstname, &account.Lastname, &account.PhoneNumber,
		&roleName, &account.Role.Permissions, &account.EmailVerified, &account.PhoneVerified, &account.HashedPassword,
		&account.ActiveDeviceCount, &account.ActiveDevices, &account.Tokens, &account.Disabled, &version, &account.CreatedOn,
	)
	if err != nil {
		return nil, false, r.lookupError("account_id", err)
	}

	if version != nil {
		account.Version = *version
	}
	account.Role.Name = models.RoleName(roleName)
	if account.Role.Name == "" {
		account.Role.Name = models.RoleAuthenticated
	}
	return &account, version != nil, nil
}

func (r *ScyllaAccountRepository) lookupError(by string, err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrAccountNotFound
	}
	r.logger.Error("Failed to query account", zap.String("lookup", by), zap.Error(err))
	return fmt.Errorf("failed to query account by %s: %w", by, err)
}
