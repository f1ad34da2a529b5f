package credential

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/promptdeck/promptd/internal/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewService(filepath.Join(t.TempDir(), "credential.key"), log)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)

	for _, plaintext := range []string{"sk-abc123", "x", "a long credential with spaces and unicode ✓"} {
		payload, err := svc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}

		got, err := svc.Decrypt(payload)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptRejectsEmptyValue(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Encrypt(""); err == nil {
		t.Fatal("expected error for empty credential")
	}
}

func TestUnavailableKeyStore(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	svc := NewService("", log)

	if svc.Available() {
		t.Fatal("service with no key path should be unavailable")
	}

	if _, err := svc.Encrypt("sk-something"); !errors.Is(err, ErrEncryptionUnavailable) {
		t.Errorf("Encrypt error = %v, want ErrEncryptionUnavailable", err)
	}
	if _, err := svc.Decrypt([]byte{payloadVersion, 0x00}); !errors.Is(err, ErrDecryptionUnavailable) {
		t.Errorf("Decrypt error = %v, want ErrDecryptionUnavailable", err)
	}
}

func TestDecryptRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(t)

	cases := map[string][]byte{
		"empty":         {},
		"too short":     {payloadVersion, 0x01, 0x02},
		"wrong version": append([]byte{0xff}, make([]byte, 64)...),
	}
	for name, payload := range cases {
		if _, err := svc.Decrypt(payload); !errors.Is(err, ErrIntegrity) {
			t.Errorf("%s: Decrypt error = %v, want ErrIntegrity", name, err)
		}
	}

	// Tampered ciphertext must fail authentication.
	payload, err := svc.Encrypt("sk-tamperme12345")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	payload[len(payload)-1] ^= 0x01
	if _, err := svc.Decrypt(payload); !errors.Is(err, ErrIntegrity) {
		t.Errorf("tampered payload: Decrypt error = %v, want ErrIntegrity", err)
	}
}

func TestMasterKeyPersistsAcrossServices(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "credential.key")
	log := logger.New(logger.Config{Level: slog.LevelError})

	first := NewService(keyPath, log)
	payload, err := first.Encrypt("sk-persistent-key-123")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	second := NewService(keyPath, log)
	got, err := second.Decrypt(payload)
	if err != nil {
		t.Fatalf("Decrypt with fresh service failed: %v", err)
	}
	if got != "sk-persistent-key-123" {
		t.Errorf("got %q, want original plaintext", got)
	}
}

func TestValidateCredential(t *testing.T) {
	cases := []struct {
		value        string
		providerType string
		want         bool
	}{
		{"", "ollama", true},
		{"anything", "OLLAMA", true},
		{"sk-abcdefghijklmnopqrst", "openai", true},
		{"sk-abcdefghijklmnopqrst", "OpenAI", true},
		{"sk-short", "openai", false},
		{"no-prefix-abcdefghijklmnop", "openai", false},
		{"sk-or-abcdefghijklmnop", "openrouter", true},
		{"sk-abcdefghijklmnopqrst", "openrouter", false},
		{"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "tinfoil", true},
		{"0123456789abcdef", "tinfoil", false},
		{"sk-abcdefghijklmnopqrst", "unknown-provider", false},
	}

	for _, tc := range cases {
		if got := ValidateCredential(tc.value, tc.providerType); got != tc.want {
			t.Errorf("ValidateCredential(%q, %q) = %v, want %v", tc.value, tc.providerType, got, tc.want)
		}
	}
}
