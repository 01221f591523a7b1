package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"auth-token-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidKey       = errors.New("invalid master key")
)

const (
	masterKeySize = 32
	nonceSize     = 12

	cipherKeyInfo = "auth-token-service/deterministic/aes-256-gcm"
	macKeyInfo    = "auth-token-service/deterministic/nonce-hmac-sha256"
)

// KMSDecrypter is the slice of the KMS client used to unwrap the data key.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptionManager turns secrets into stable lookup values. The same
// plaintext always yields the same ciphertext under one master key, which is
// what lets encrypted refresh tokens, OTPs and auth tokens be used as cache
// keys and set members. The nonce is an HMAC of the plaintext (SIV style), so
// equal ciphertexts only ever reveal equal plaintexts.
type EncryptionManager struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewEncryptionManager resolves the master key from KMS when enabled, or from
// the configured base64 key otherwise.
func NewEncryptionManager(ctx context.Context, cfg *config.Config, kmsClient KMSDecrypter, logger *zap.Logger) (*EncryptionManager, error) {
	var master []byte

	if cfg.KMS.Enabled {
		if kmsClient == nil {
			return nil, fmt.Errorf("%w: kms enabled without a client", ErrInvalidKey)
		}
		blob, err := base64.StdEncoding.DecodeString(cfg.KMS.WrappedDataKey)
		if err != nil {
			return nil, fmt.Errorf("%w: wrapped data key is not base64", ErrInvalidKey)
		}
		input := &kms.DecryptInput{CiphertextBlob: blob}
		if cfg.KMS.KeyID != "" {
			input.KeyId = aws.String(cfg.KMS.KeyID)
		}
		out, err := kmsClient.Decrypt(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to unwrap data key: %w", err)
		}
		master = out.Plaintext
		if logger != nil {
			logger.Info("Deterministic encryption key unwrapped via KMS", zap.String("key_id", cfg.KMS.KeyID))
		}
	} else {
		key, err := base64.StdEncoding.DecodeString(cfg.Encryption.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: encryption key is not base64", ErrInvalidKey)
		}
		master = key
	}

	return NewEncryptionManagerWithKey(master)
}

// NewEncryptionManagerWithKey derives the cipher and nonce keys from a 32 byte master key.
func NewEncryptionManagerWithKey(master []byte) (*EncryptionManager, error) {
	if len(master) != masterKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, masterKeySize, len(master))
	}

	encKey, err := deriveKey(master, cipherKeyInfo)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(master, macKeyInfo)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &EncryptionManager{aead: gcm, macKey: macKey}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt is deterministic and URL safe, so its output can be embedded in cache keys.
func (em *EncryptionManager) Encrypt(plaintext string) string {
	mac := hmac.New(sha256.New, em.macKey)
	mac.Write([]byte(plaintext))
	nonce := mac.Sum(nil)[:nonceSize]

	sealed := em.aead.Seal(nonce[:nonceSize:nonceSize], nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Decrypt reverses Encrypt and re-checks the synthetic nonce.
func (em *EncryptionManager) Decrypt(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	if len(raw) < nonceSize+em.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := em.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	mac := hmac.New(sha256.New, em.macKey)
	mac.Write(plaintext)
	if !hmac.Equal(mac.Sum(nil)[:nonceSize], nonce) {
		return "", fmt.Errorf("%w: nonce mismatch", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}
