// Package credentials keeps repository secrets (access tokens, deploy keys)
// encrypted at rest with AES-256-GCM.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	EncryptionKeyEnv     = "GITSYNC_ENCRYPTION_KEY"
	EncryptionKeyFileEnv = "GITSYNC_ENCRYPTION_KEY_FILE"

	keySize = 32
)

// Service seals and opens secret values. A nil Service is valid and reports
// encryption as disabled, so public-only deployments need no key at all.
type Service struct {
	aead   cipher.AEAD
	source string
}

// NewServiceFromEnv builds the service from ambient configuration: the key
// env var wins, then the key file named by env, then defaultKeyPath, which
// is generated on first run.
func NewServiceFromEnv(defaultKeyPath string) (*Service, error) {
	key, source, err := resolveKey(defaultKeyPath)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	return &Service{aead: aead, source: source}, nil
}

func resolveKey(defaultKeyPath string) ([]byte, string, error) {
	if raw := strings.TrimSpace(os.Getenv(EncryptionKeyEnv)); raw != "" {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", EncryptionKeyEnv, err)
		}
		return key, "env:" + EncryptionKeyEnv, nil
	}

	path := strings.TrimSpace(os.Getenv(EncryptionKeyFileEnv))
	if path == "" {
		path = defaultKeyPath
	}
	if path == "" {
		return nil, "", fmt.Errorf("no encryption key path configured")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, derr := decodeKey(strings.TrimSpace(string(data)))
		if derr != nil {
			return nil, "", fmt.Errorf("key file %s: %w", path, derr)
		}
		return key, "file:" + path, nil
	case errors.Is(err, os.ErrNotExist):
		key, gerr := generateKeyFile(path)
		if gerr != nil {
			return nil, "", gerr
		}
		return key, "file:" + path, nil
	default:
		return nil, "", fmt.Errorf("failed to read key file: %w", err)
	}
}

// decodeKey accepts 32 raw bytes or their base64 encoding.
func decodeKey(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if len(value) == keySize {
		return []byte(value), nil
	}
	return nil, fmt.Errorf("key must be %d raw bytes or their base64 encoding", keySize)
}

func generateKeyFile(path string) ([]byte, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	// O_EXCL: a concurrent first run must never truncate a key already
	// written by another process.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				return nil, fmt.Errorf("failed to read key file: %w", rerr)
			}
			return decodeKey(strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close key file: %w", err)
	}
	return key, nil
}

// Enabled reports whether encryption is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.aead != nil
}

// KeySource names where the encryption key came from ("env:VAR" or
// "file:path"), for startup logging.
func (s *Service) KeySource() string {
	if s == nil {
		return ""
	}
	return s.source
}

// Encrypt seals plaintext and returns the ciphertext with its nonce.
func (s *Service) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	if !s.Enabled() {
		return nil, nil, fmt.Errorf("credential encryption is disabled: %s is not set", EncryptionKeyEnv)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens a value sealed by Encrypt.
func (s *Service) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("credential encryption is disabled: %s is not set", EncryptionKeyEnv)
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return plaintext, nil
}

func zero(value []byte) {
	for i := range value {
		value[i] = 0
	}
}
