package service

import (
	"go.uber.org/zap"

	"auth-token-service/internal/config"
	"auth-token-service/internal/token"
)

// Dependencies groups what the services are built from.
type Dependencies struct {
	Config    config.TokenConfig
	Store     AccountStore
	Cache     AccountCache
	Secrets   SecretCache
	Tokens    *token.Manager
	Encryptor Encryptor
	Passwords PasswordVerifier
	Publisher EventPublisher
	Auditor   Auditor
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps   Dependencies
	logger *zap.Logger

	accountReader  *AccountReader
	sessionService *SessionService
	otpService     *OTPService
}

func NewServiceFactory(deps Dependencies, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{deps: deps, logger: logger}
}

func (f *ServiceFactory) AccountReader() *AccountReader {
	if f.accountReader == nil {
		f.accountReader = NewAccountReader(f.deps.Cache, f.deps.Store, f.logger)
	}
	return f.accountReader
}

// SessionService returns the session service instance (singleton)
func (f *ServiceFactory) SessionService() *SessionService {
	if f.sessionService == nil {
		f.sessionService = NewSessionService(
			f.deps.Config,
			f.deps.Store,
			f.AccountReader(),
			f.deps.Secrets,
			f.deps.Tokens,
			f.deps.Encryptor,
			f.deps.Passwords,
			f.deps.Publisher,
			f.deps.Auditor,
			f.logger,
		)
	}
	return f.sessionService
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.deps.Config,
			f.deps.Secrets,
			f.deps.Encryptor,
			f.deps.Publisher,
			f.deps.Auditor,
			f.logger,
		)
	}
	return f.otpService
}
