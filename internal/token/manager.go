package token

import (
	"errors"
	"fmt"
	"time"

	"auth-token-service/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrEncoding means a token could not be minted. Callers treat it as the
	// service being unavailable.
	ErrEncoding = errors.New("token encoding failed")
	// ErrInvalidToken covers bad signatures, wrong iss/aud/sub and expiry.
	ErrInvalidToken = errors.New("invalid token")
)

// Manager issues and verifies HMAC-signed access and refresh tokens. Each
// kind has its own secret so one can never be accepted as the other.
type Manager struct {
	method        jwt.SigningMethod
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      string
	subject       string
	now           func() time.Time
	logger        *zap.Logger
}

type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Pair is the result of a login or rotation.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func NewManager(cfg config.TokenConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "HS256", "":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}

	m := &Manager{
		method:        method,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		subject:       cfg.Subject,
		now:           time.Now,
		logger:        logger,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs claims with secret.
func (m *Manager) Issue(claims Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		m.logger.Error("Failed to create token", zap.String("reason", "empty secret"))
		return "", fmt.Errorf("%w: empty secret", ErrEncoding)
	}
	if claims.ID == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		m.logger.Error("Failed to create token", zap.String("reason", "incomplete claims"))
		return "", fmt.Errorf("%w: id, iat and exp are required", ErrEncoding)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		m.logger.Error("Failed to create token", zap.String("reason", "exp not after iat"))
		return "", fmt.Errorf("%w: exp must be after iat", ErrEncoding)
	}

	signed, err := jwt.NewWithClaims(m.method, &claims).SignedString(secret)
	if err != nil {
		m.logger.Error("Failed to create token", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, iss, aud, sub and exp.
func (m *Manager) Verify(tokenString string, secret []byte, issuer, audience, subject string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	if subject != "" {
		options = append(options, jwt.WithSubject(subject))
	}
	parser := jwt.NewParser(options...)

	claims := &Claims{}
	tok, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		m.logger.Debug("Failed to verify token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssuePair mints an access and a refresh token sharing the same profile claims.
func (m *Manager) IssuePair(accountID string, isAdmin bool, profile Profile) (Pair, error) {
	now := m.now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.Issue(m.claims(accountID, isAdmin, profile, now, accessExp), m.accessSecret)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.Issue(m.claims(accountID, isAdmin, profile, now, refreshExp), m.refreshSecret)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) VerifyAccess(tokenString string) (*Claims, error) {
	return m.Verify(tokenString, m.accessSecret, m.issuer, m.audience, m.subject)
}

func (m *Manager) VerifyRefresh(tokenString string) (*Claims, error) {
	return m.Verify(tokenString, m.refreshSecret, m.issuer, m.audience, m.subject)
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *Manager) claims(accountID string, isAdmin bool, profile Profile, iat, exp time.Time) Claims {
	return Claims{
		Issuer:    m.issuer,
		Audience:  m.audience,
		Subject:   m.subject,
		Firstname: profile.Firstname,
		Lastname:  profile.Lastname,
		Email:     profile.Email,
		ID:        accountID,
		Admin:     isAdmin,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
		TokenID:   uuid.NewString(),
	}
}
