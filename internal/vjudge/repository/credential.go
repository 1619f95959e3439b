package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:"

// CredentialSealer encrypts remote passwords at rest.
// Values stored without the sealed prefix are returned as they are, so
// plain rows keep working after a key is introduced.
type CredentialSealer struct {
	key [32]byte
}

// NewCredentialSealer derives the box key from secret. An empty secret disables sealing.
func NewCredentialSealer(secret string) *CredentialSealer {
	if secret == "" {
		return nil
	}
	return &CredentialSealer{key: sha256.Sum256([]byte(secret))}
}

// Seal encrypts plain. A nil sealer returns plain unchanged.
func (s *CredentialSealer) Seal(plain string) (string, error) {
	if s == nil || plain == "" {
		return plain, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce failed: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open decrypts a value produced by Seal.
func (s *CredentialSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", errors.New("credential is sealed but no key is configured")
	}
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed credential failed: %w", err)
	}
	if len(box) < 24+secretbox.Overhead {
		return "", errors.New("sealed credential too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("sealed credential cannot be opened with the configured key")
	}
	return string(plain), nil
}
