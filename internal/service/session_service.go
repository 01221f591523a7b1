package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"auth-token-service/internal/config"
	"auth-token-service/internal/models"
	"auth-token-service/internal/repository/scylla"
	"auth-token-service/internal/token"
	"auth-token-service/internal/util"
)

// LoginRequest carries either an email or a phone number depending on AuthType.
type LoginRequest struct {
	AuthType    models.AuthType `json:"-"`
	Email       string          `json:"email,omitempty"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	Password    string          `json:"password"`
	DeviceIP    string          `json:"-"`
	Device      models.Device   `json:"device_info"`
}

// TokenResponse is returned by login and rotation. Expiry is the access
// token lifetime in seconds.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Expiry       int64  `json:"expiry"`
}

// SessionService owns the refresh token lifecycle: login, rotation with
// reuse detection, and revocation.
type SessionService struct {
	cfg       config.TokenConfig
	store     AccountStore
	reader    *AccountReader
	secrets   SecretCache
	tokens    *token.Manager
	encryptor Encryptor
	passwords PasswordVerifier
	publisher EventPublisher
	auditor   Auditor
	logger    *zap.Logger
}

func NewSessionService(
	cfg config.TokenConfig,
	store AccountStore,
	reader *AccountReader,
	secrets SecretCache,
	tokens *token.Manager,
	encryptor Encryptor,
	passwords PasswordVerifier,
	publisher EventPublisher,
	auditor Auditor,
	logger *zap.Logger,
) *SessionService {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &SessionService{
		cfg:       cfg,
		store:     store,
		reader:    reader,
		secrets:   secrets,
		tokens:    tokens,
		encryptor: encryptor,
		passwords: passwords,
		publisher: publisher,
		auditor:   auditor,
		logger:    util.OrNop(logger),
	}
}

// Login authenticates by email or phone number and opens a new session.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	startTime := time.Now()

	account, err := s.authenticate(ctx, &req)
	if err != nil {
		s.auditor.Record(ctx, models.SecurityEventLoginFailed, "", req.DeviceIP, err.Error())
		return nil, err
	}

	pair, err := s.tokens.IssuePair(account.ID, account.IsAdmin(), profileOf(account))
	if err != nil {
		s.logger.Error("Failed to issue token pair", util.AccountID(account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}
	encrypted := s.encryptor.Encrypt(pair.RefreshToken)

	// The account projection is rewritten by the token set applier once the
	// assign event is applied to the store.
	s.publisher.AssignToken(ctx, models.AssignToken{
		ID:         account.ID,
		Email:      account.Email,
		DeviceIP:   req.DeviceIP,
		Token:      encrypted,
		DeviceInfo: req.Device,
	})

	s.auditor.Record(ctx, models.SecurityEventLogin, account.ID, req.DeviceIP, string(req.AuthType))
	s.logger.Info("Login successful",
		util.AccountID(account.ID),
		util.DeviceIP(req.DeviceIP),
		zap.String("auth_type", string(req.AuthType)),
		util.Elapsed(startTime),
	)
	return s.response(pair), nil
}

func (s *SessionService) authenticate(ctx context.Context, req *LoginRequest) (*models.Account, error) {
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	var (
		account *models.Account
		err     error
	)
	switch req.AuthType {
	case models.AuthTypeEmail:
		req.Email = util.NormalizeEmail(req.Email)
		if req.Email == "" || util.ContainsSuspicious(req.Email) {
			return nil, fmt.Errorf("%w: email", ErrInvalidInput)
		}
		account, err = s.store.GetAccountByEmail(ctx, req.Email)
	case models.AuthTypePhone:
		req.PhoneNumber = util.NormalizePhone(req.PhoneNumber)
		if req.PhoneNumber == "" {
			return nil, fmt.Errorf("%w: phone number", ErrInvalidInput)
		}
		account, err = s.store.GetAccountByPhoneNumber(ctx, req.PhoneNumber)
	default:
		return nil, fmt.Errorf("%w: unsupported auth type %q", ErrInvalidInput, req.AuthType)
	}
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		s.logger.Error("Account lookup failed", zap.String("auth_type", string(req.AuthType)), zap.Error(err))
		return nil, ErrServiceUnavailable
	}

	if account.Disabled {
		return nil, ErrCredential
	}
	if req.AuthType == models.AuthTypeEmail && !account.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if req.AuthType == models.AuthTypePhone && !account.PhoneVerified {
		return nil, ErrPhoneNotVerified
	}
	if account.SessionCount() >= s.cfg.MaxDevices {
		s.logger.Warn("Device limit reached",
			util.AccountID(account.ID),
			zap.Int("active_devices", account.SessionCount()))
		return nil, ErrDeviceLimitExceeded
	}

	ok, err := s.passwords.Verify(account.HashedPassword, req.Password)
	if err != nil {
		s.logger.Error("Stored password hash could not be verified", util.AccountID(account.ID), zap.Error(err))
		return nil, ErrInvalidPassword
	}
	if !ok {
		return nil, ErrInvalidPassword
	}
	return account, nil
}

// VerifyAccessToken returns the claims of a valid access token.
func (s *SessionService) VerifyAccessToken(ctx context.Context, accessToken string) (*token.Claims, error) {
	if accessToken == "" {
		return nil, ErrCredential
	}
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrCredential
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. Presenting a token that
// is no longer in the account's token set revokes every session of the
// account and fails with ErrReusedToken.
func (s *SessionService) Rotate(ctx context.Context, refreshToken, deviceIP string) (*TokenResponse, error) {
	claims, encrypted, err := s.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.resolveSession(ctx, claims.ID, encrypted, deviceIP)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(account.ID, account.IsAdmin(), profileOf(account))
	if err != nil {
		s.logger.Error("Failed to issue token pair", util.AccountID(account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}

	s.publisher.UpdateToken(ctx, models.UpdateToken{
		ID:       account.ID,
		OldToken: encrypted,
		NewToken: s.encryptor.Encrypt(pair.RefreshToken),
	})

	s.auditor.Record(ctx, models.SecurityEventTokenRotated, account.ID, deviceIP, "")
	s.logger.Info("Refresh token rotated", util.AccountID(account.ID))
	return s.response(pair), nil
}

// Logout revokes the session behind refreshToken and leaves the account's
// other sessions alone.
func (s *SessionService) Logout(ctx context.Context, refreshToken, deviceIP string) error {
	claims, encrypted, err := s.verifyRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	account, err := s.resolveSession(ctx, claims.ID, encrypted, deviceIP)
	if err != nil {
		return err
	}

	if err := s.RevokeOne(ctx, account.ID, refreshToken, deviceIP); err != nil {
		return err
	}
	s.publisher.Logout(ctx, models.Logout{Email: account.Email, RefreshToken: encrypted}, account.ID)

	s.auditor.Record(ctx, models.SecurityEventLogout, account.ID, deviceIP, "")
	s.logger.Info("Logout successful", util.AccountID(account.ID), util.DeviceIP(deviceIP))
	return nil
}

// LogoutAll revokes every session of the account the access token belongs to.
func (s *SessionService) LogoutAll(ctx context.Context, accessToken, deviceIP string) error {
	claims, err := s.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}
	return s.RevokeAll(ctx, claims.ID, deviceIP)
}

// RevokeAll emits a single account scoped revocation.
func (s *SessionService) RevokeAll(ctx context.Context, accountID, deviceIP string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if !s.publisher.RevokeAllTokens(ctx, accountID) {
		return ErrServiceUnavailable
	}
	s.auditor.Record(ctx, models.SecurityEventRevokeAll, accountID, deviceIP, "")
	s.logger.Warn("All sessions revoked", util.AccountID(accountID))
	return nil
}

// RevokeOne emits a revocation for a single refresh token.
func (s *SessionService) RevokeOne(ctx context.Context, accountID, refreshToken, deviceIP string) error {
	if accountID == "" || refreshToken == "" {
		return fmt.Errorf("%w: account id and token are required", ErrInvalidInput)
	}
	ok := s.publisher.RevokeRefreshToken(ctx, models.RevokeRefreshToken{
		ID:       accountID,
		Token:    s.encryptor.Encrypt(refreshToken),
		DeviceIP: deviceIP,
	})
	if !ok {
		return ErrServiceUnavailable
	}
	return nil
}

func (s *SessionService) verifyRefresh(ctx context.Context, refreshToken string) (*token.Claims, string, error) {
	if refreshToken == "" {
		return nil, "", ErrCredential
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, "", ErrCredential
	}
	encrypted := s.encryptor.Encrypt(refreshToken)

	revoked, err := s.secrets.IsRefreshTokenRevoked(ctx, claims.ID, encrypted)
	if err != nil {
		s.logger.Error("Revocation check failed", util.AccountID(claims.ID), zap.Error(err))
		return nil, "", ErrServiceUnavailable
	}
	if revoked {
		s.logger.Info("Revoked refresh token presented", util.AccountID(claims.ID))
		return nil, "", ErrCredential
	}
	return claims, encrypted, nil
}

// resolveSession returns the account owning encrypted, or revokes every
// session of accountID when the token is not in its set.
func (s *SessionService) resolveSession(ctx context.Context, accountID, encrypted, deviceIP string) (*models.Account, error) {
	account, err := s.reader.GetAuthoritativeTokenSet(ctx, accountID, encrypted)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	if account == nil || !account.HasToken(encrypted) {
		s.logger.Warn("Reused refresh token detected", util.AccountID(accountID), util.DeviceIP(deviceIP))
		s.publisher.RevokeAllTokens(ctx, accountID)
		s.auditor.Record(ctx, models.SecurityEventTokenReused, accountID, deviceIP, "")
		return nil, ErrReusedToken
	}
	if account.Disabled {
		return nil, ErrCredential
	}
	return account, nil
}

func (s *SessionService) response(pair token.Pair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    s.cfg.TokenType,
		Expiry:       int64(s.tokens.AccessTTL() / time.Second),
	}
}

func profileOf(account *models.Account) token.Profile {
	return token.Profile{
		Firstname: account.Firstname,
		Lastname:  account.Lastname,
		Email:     account.Email,
	}
}
