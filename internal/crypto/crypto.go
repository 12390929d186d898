package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"idcore/pkg/errors"
)

// Service encrypts and decrypts sensitive profile fields and hashes stored
// tokens. Field encryption is reversible by the service; token hashing is
// one-way so stored tokens stay unrecoverable even under key compromise.
type Service interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsStale(ciphertext string) (bool, error)
	HashToken(token string) string
	HashCandidates(token string) []string
	VerifyTokenHash(token, expected string) bool
}

// KeyConfig is one versioned key as handed to the service, primary first.
type KeyConfig struct {
	Version string
	Hex     string
}

// VersionedService is an AES-256-GCM Service with rotating keys. Ciphertext
// wire format: <version>:<unix seconds>:<hex(nonce || ciphertext || tag)>.
// The version/timestamp prefix is authenticated as GCM additional data, so
// tampering with it fails decryption.
type VersionedService struct {
	primaryVersion string
	aeads          map[string]cipher.AEAD
	hashKeys       [][]byte // HMAC keys derived from raw key material, primary first
	rotationWindow time.Duration
	clock          clockwork.Clock
}

// NewVersionedService builds a service from an ordered key list, primary
// first. Keys are loaded once and treated as immutable afterwards, so the
// service is safe for unsynchronized concurrent use.
func NewVersionedService(keys []KeyConfig, rotationWindow time.Duration, clock clockwork.Clock) (*VersionedService, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one key required")
	}

	aeads := make(map[string]cipher.AEAD, len(keys))
	hashKeys := make([][]byte, 0, len(keys))

	for _, k := range keys {
		raw, err := hex.DecodeString(strings.TrimSpace(k.Hex))
		if err != nil {
			return nil, fmt.Errorf("invalid key for version %s: %w", k.Version, err)
		}
		if len(raw) != 32 {
			return nil, fmt.Errorf("key for version %s must be 32 bytes, got %d", k.Version, len(raw))
		}
		block, err := aes.NewCipher(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher for version %s: %w", k.Version, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM for version %s: %w", k.Version, err)
		}
		if _, dup := aeads[k.Version]; dup {
			return nil, fmt.Errorf("duplicate key version %s", k.Version)
		}
		aeads[k.Version] = gcm
		hashKeys = append(hashKeys, raw)
	}

	return &VersionedService{
		primaryVersion: keys[0].Version,
		aeads:          aeads,
		hashKeys:       hashKeys,
		rotationWindow: rotationWindow,
		clock:          clock,
	}, nil
}

// PrimaryVersion returns the version new ciphertexts are written under.
func (s *VersionedService) PrimaryVersion() string {
	return s.primaryVersion
}

// Encrypt encrypts plaintext under the primary key and embeds the key
// version and creation time in the output.
func (s *VersionedService) Encrypt(plaintext string) (string, error) {
	gcm := s.aeads[s.primaryVersion]

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := fmt.Sprintf("%s:%d", s.primaryVersion, s.clock.Now().Unix())

	// Seal appends the encrypted data to nonce, returning nonce || ciphertext || tag
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(header))
	return header + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt selects the key recorded in the ciphertext header and decrypts.
// It never guesses across keys: a retired version fails with the key
// not found code, corrupted data with the decryption failed code.
func (s *VersionedService) Decrypt(ciphertext string) (string, error) {
	version, createdAt, payload, err := parseCiphertext(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, ok := s.aeads[version]
	if !ok {
		return "", errors.NewKeyNotFoundError(version)
	}

	buffer, err := hex.DecodeString(payload)
	if err != nil {
		return "", errors.NewDecryptionFailedError(fmt.Errorf("failed to decode hex: %w", err))
	}

	nonceSize := gcm.NonceSize()
	if len(buffer) < nonceSize {
		return "", errors.NewDecryptionFailedError(fmt.Errorf("ciphertext too short"))
	}

	header := fmt.Sprintf("%s:%d", version, createdAt.Unix())
	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plainBytes, err := gcm.Open(nil, nonce, cipherBytes, []byte(header))
	if err != nil {
		return "", errors.NewDecryptionFailedError(fmt.Errorf("failed to decrypt: %w", err))
	}

	return string(plainBytes), nil
}

// IsStale reports whether the ciphertext should be re-encrypted on next
// write: either it was written under a non-primary key, or its embedded age
// exceeds the rotation window. The service never rewrites data itself.
func (s *VersionedService) IsStale(ciphertext string) (bool, error) {
	version, createdAt, _, err := parseCiphertext(ciphertext)
	if err != nil {
		return false, err
	}
	if version != s.primaryVersion {
		return true, nil
	}
	return s.clock.Now().Sub(createdAt) > s.rotationWindow, nil
}

// HashToken returns a deterministic one-way digest of a token, keyed with
// the primary key material.
func (s *VersionedService) HashToken(token string) string {
	mac := hmac.New(sha256.New, s.hashKeys[0])
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashCandidates returns the token's digest under every retained key, primary
// first. Lookups by stored hash stay valid across key rotation by trying each
// candidate.
func (s *VersionedService) HashCandidates(token string) []string {
	candidates := make([]string, 0, len(s.hashKeys))
	for _, key := range s.hashKeys {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(token))
		candidates = append(candidates, hex.EncodeToString(mac.Sum(nil)))
	}
	return candidates
}

// VerifyTokenHash compares a presented token against a stored digest across
// all retained keys, in constant time per candidate. Hashes written under a
// since-rotated key keep verifying until that key is dropped.
func (s *VersionedService) VerifyTokenHash(token, expected string) bool {
	for _, key := range s.hashKeys {
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(token))
		digest := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(digest), []byte(expected)) {
			return true
		}
	}
	return false
}

// parseCiphertext splits <version>:<unix>:<hex> and validates the header.
func parseCiphertext(ciphertext string) (string, time.Time, string, error) {
	parts := strings.SplitN(ciphertext, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return "", time.Time{}, "", errors.NewDecryptionFailedError(fmt.Errorf("malformed ciphertext"))
	}
	seconds, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, "", errors.NewDecryptionFailedError(fmt.Errorf("malformed ciphertext timestamp"))
	}
	return parts[0], time.Unix(seconds, 0).UTC(), parts[2], nil
}
