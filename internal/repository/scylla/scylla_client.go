package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"auth-token-service/internal/config"
)

const accountColumns = `account_bucket, account_id, email, firstname, lastname, phone_number,
	role_name, permissions, email_verified, phone_verified, hashed_password,
	active_device_count, active_devices, tokens, disabled, version, created_on`

// Statements holds the CQL used by the repository. gocql prepares and
// caches each statement on first use.
type Statements struct {
	GetAccountByID              string
	GetAccountWithToken         string
	GetAccountIDByEmail         string
	GetAccountIDByPhone         string
	UpdateTokenSetIfMatch       string
	UpdateTokenSetIfUnversioned string
}

func newStatements() Statements {
	return Statements{
		GetAccountByID: `SELECT ` + accountColumns + `
			FROM accounts WHERE account_bucket = ? AND account_id = ?`,
		GetAccountWithToken: `SELECT ` + accountColumns + `
			FROM accounts WHERE account_bucket = ? AND account_id = ? AND tokens CONTAINS ? ALLOW FILTERING`,
		GetAccountIDByEmail: `SELECT account_id FROM accounts_by_email WHERE email = ?`,
		GetAccountIDByPhone: `SELECT account_id FROM accounts_by_phone WHERE phone_number = ?`,
		UpdateTokenSetIfMatch: `UPDATE accounts
			SET tokens = ?, active_devices = ?, active_device_count = ?, version = ?
			WHERE account_bucket = ? AND account_id = ? IF version = ?`,
		UpdateTokenSetIfUnversioned: `UPDATE accounts
			SET tokens = ?, active_devices = ?, active_device_count = ?, version = ?
			WHERE account_bucket = ? AND account_id = ? IF version = null`,
	}
}

type ScyllaClient struct {
	Session    *gocql.Session
	Statements Statements
	logger     *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = scyllaConfig.Timeout
	cluster.ConnectTimeout = scyllaConfig.Timeout
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session:    session,
		Statements: newStatements(),
		logger:     logger,
	}, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	s.logger.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ScanWithRetry retries transient failures. ErrNotFound and context errors
// are returned immediately.
func (s *ScyllaClient) ScanWithRetry(ctx context.Context, stmt string, args []interface{}, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := s.Query(ctx, stmt, args...).Scan(dest...)
		if err == nil {
			return nil
		}
		if errors.Is(err, gocql.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if i < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
