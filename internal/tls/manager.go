package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"auth-token-service/internal/config"
	"auth-token-service/internal/util"
)

// Manager picks the server certificate in order: ACME (when AutoCert is
// on), the configured key pair, then a self-signed development pair.
type Manager struct {
	cfg      config.ServerConfig
	autoCert *autocert.Manager
	logger   *zap.Logger

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewManager(cfg config.ServerConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: util.OrNop(logger),
	}
	if cfg.EnableTLS && cfg.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.cfg.AutoCertDir, 0o700); err != nil {
		m.logger.Warn("Could not create autocert directory", util.ErrorField(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.cfg.Domain),
		Cache:      autocert.DirCache(m.cfg.AutoCertDir),
		Email:      m.cfg.Email,
	}

	m.logger.Info("AutoCert configured",
		util.String("domain", m.cfg.Domain),
		util.String("cache_dir", m.cfg.AutoCertDir),
	)
}

// GetCertificate is installed as tls.Config.GetCertificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		m.logger.Warn("AutoCert failed, falling back", util.String("server_name", hello.ServerName), util.ErrorField(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.CertFile != "" && m.cfg.KeyFile != "" {
		if m.fileCert == nil {
			cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load key pair: %w", err)
			}
			m.fileCert = &cert
		}
		return m.fileCert, nil
	}

	if m.devCert == nil {
		cert, err := NewDevCertGenerator(m.cfg.AutoCertDir, m.logger).GenerateCert(m.hosts())
		if err != nil {
			return nil, fmt.Errorf("generate self-signed certificate: %w", err)
		}
		m.devCert = &cert
	}
	return m.devCert, nil
}

func (m *Manager) hosts() []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.cfg.Domain != "" && m.cfg.Domain != "localhost" {
		hosts = append([]string{m.cfg.Domain}, hosts...)
	}
	return hosts
}

// TLSConfig returns the server side TLS configuration.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler answers ACME http-01 challenges on the plain listener and
// passes everything else to fallback.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
