// Package credential encrypts provider credentials at rest and validates
// their shape before they are accepted.
//
// Encryption uses AES-256-GCM with a key derived via HKDF from a master
// key stored next to the database. Plaintext credentials never appear in
// logs or error messages.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/promptdeck/promptd/internal/logger"
)

var (
	// ErrEncryptionUnavailable indicates the master key store cannot be used.
	ErrEncryptionUnavailable = errors.New("credential encryption unavailable")
	// ErrDecryptionUnavailable indicates the master key store cannot be used.
	ErrDecryptionUnavailable = errors.New("credential decryption unavailable")
	// ErrIntegrity indicates an encrypted payload is malformed or tampered.
	ErrIntegrity = errors.New("malformed encrypted credential")
)

const (
	masterKeySize  = 32
	payloadVersion = 0x01
)

// Service handles credential encryption, decryption and shape validation.
type Service struct {
	keyPath string
	logger  *logger.Logger

	mu        sync.Mutex
	masterKey []byte
	loadErr   error
	loaded    bool
}

// NewService creates a credential service backed by the master key at
// keyPath. An empty keyPath yields a service whose encryption operations
// report unavailability.
func NewService(keyPath string, log *logger.Logger) *Service {
	return &Service{
		keyPath: keyPath,
		logger:  log.WithComponent("credential"),
	}
}

// Available reports whether the master key store can be used.
func (s *Service) Available() bool {
	_, err := s.loadMasterKey()
	return err == nil
}

// Encrypt encrypts a plaintext credential. The returned payload is
// version || nonce || ciphertext. The error message never contains the
// input.
func (s *Service) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("credential: refusing to encrypt empty value")
	}

	gcm, err := s.cipher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("credential: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	payload = append(payload, payloadVersion)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	return payload, nil
}

// Decrypt decrypts a payload produced by Encrypt. Malformed payloads
// yield ErrIntegrity rather than a generic failure.
func (s *Service) Decrypt(payload []byte) (string, error) {
	gcm, err := s.cipher()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionUnavailable, err)
	}

	if len(payload) < 1+gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrIntegrity)
	}
	if payload[0] != payloadVersion {
		return "", fmt.Errorf("%w: unknown payload version %d", ErrIntegrity, payload[0])
	}

	nonce := payload[1 : 1+gcm.NonceSize()]
	ciphertext := payload[1+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return string(plaintext), nil
}

// cipher derives the AES-GCM AEAD from the master key.
func (s *Service) cipher() (cipher.AEAD, error) {
	masterKey, err := s.loadMasterKey()
	if err != nil {
		return nil, err
	}

	aesKey := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("credential-encryption"))
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// loadMasterKey loads the master key from disk, creating it on first use.
func (s *Service) loadMasterKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.masterKey, s.loadErr
	}
	s.loaded = true

	if s.keyPath == "" {
		s.loadErr = errors.New("no key path configured")
		return nil, s.loadErr
	}

	data, err := os.ReadFile(s.keyPath)
	switch {
	case err == nil:
		if len(data) != masterKeySize {
			s.loadErr = fmt.Errorf("master key has unexpected size %d", len(data))
			return nil, s.loadErr
		}
		s.masterKey = data
		return s.masterKey, nil

	case os.IsNotExist(err):
		key := make([]byte, masterKeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			s.loadErr = fmt.Errorf("generate master key: %w", err)
			return nil, s.loadErr
		}
		if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
			s.loadErr = fmt.Errorf("create key directory: %w", err)
			return nil, s.loadErr
		}
		if err := os.WriteFile(s.keyPath, key, 0o600); err != nil {
			s.loadErr = fmt.Errorf("write master key: %w", err)
			return nil, s.loadErr
		}
		s.logger.Info("generated new credential master key")
		s.masterKey = key
		return s.masterKey, nil

	default:
		s.loadErr = fmt.Errorf("read master key: %w", err)
		return nil, s.loadErr
	}
}

// Per-provider credential shape patterns. Ollama runs locally without a
// credential, so any value (including none) passes.
var credentialPatterns = map[string]*regexp.Regexp{
	"openai":     regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),
	"openrouter": regexp.MustCompile(`^sk-or-[A-Za-z0-9_-]{16,}$`),
	"tinfoil":    regexp.MustCompile(`^[0-9a-fA-F]{64}$`),
}

// ValidateCredential applies the per-provider shape check. The provider
// type discriminator is matched case-insensitively.
func ValidateCredential(value, providerType string) bool {
	switch kind := strings.ToLower(strings.TrimSpace(providerType)); kind {
	case "ollama":
		return true
	default:
		pattern, ok := credentialPatterns[kind]
		if !ok {
			return false
		}
		return pattern.MatchString(value)
	}
}
