// Package auth authenticates requests to the control API with bearer API
// keys. Keys are configured as bcrypt hashes so the daemon never stores
// them in plain text.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix distinguishes control API keys from other secrets.
	APIKeyPrefix = "mbx_"

	// apiKeyBytes is the random part of a generated key.
	apiKeyBytes = 32

	// APIKeyMinLen is the shortest key accepted.
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

// ErrInvalidKeyHash is returned for a configured hash bcrypt cannot use.
var ErrInvalidKeyHash = errors.New("invalid api key hash")

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// GenerateAPIKey returns a new key and its bcrypt hash.
func GenerateAPIKey() (key, hash string, err error) {
	key = APIKeyPrefix + RandomHex(apiKeyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing api key: %w", err)
	}

	return key, string(h), nil
}

// KeyHash is a named bcrypt hash of one API key.
type KeyHash struct {
	Name string
	Hash string
}

// KeyStore validates presented keys against the configured hashes.
// bcrypt is slow by construction, so keys that validated once are
// remembered by their SHA-256 digest.
type KeyStore struct {
	keys []KeyHash

	mu       sync.Mutex
	verified map[[sha256.Size]byte]string
}

// NewKeyStore checks every hash and returns a store for them.
func NewKeyStore(keys []KeyHash) (*KeyStore, error) {
	for _, k := range keys {
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("%w for %q: %w", ErrInvalidKeyHash, k.Name, err)
		}
	}

	return &KeyStore{
		keys:     append([]KeyHash(nil), keys...),
		verified: make(map[[sha256.Size]byte]string),
	}, nil
}

// Empty reports whether no key is configured.
func (s *KeyStore) Empty() bool {
	return len(s.keys) == 0
}

// Validate returns the name of the key matching key.
func (s *KeyStore) Validate(key string) (string, bool) {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) < APIKeyMinLen {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))

	s.mu.Lock()
	name, ok := s.verified[digest]
	s.mu.Unlock()

	if ok {
		return name, true
	}

	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			s.mu.Lock()
			s.verified[digest] = k.Name
			s.mu.Unlock()

			return k.Name, true
		}
	}

	return "", false
}
