// Package storage persists the local pairing secret and the active pairing.
package storage

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SecretKeySize is the length of the pairing secret in bytes.
const SecretKeySize = 32

// GenerateSecretKey returns a fresh random secret.
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, SecretKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveSecretKey writes key base64-encoded with owner-only permissions.
func SaveSecretKey(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// LoadSecretKey reads a key written by SaveSecretKey. A missing file yields
// an error matching fs.ErrNotExist.
func LoadSecretKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != SecretKeySize {
		return nil, fmt.Errorf("invalid key length: %d (expected %d)", len(key), SecretKeySize)
	}
	return key, nil
}

// GetOrCreateSecretKey loads the key at path, generating it on first use.
// A present but unreadable key is an error and is left in place.
func GetOrCreateSecretKey(path string) ([]byte, error) {
	key, err := LoadSecretKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	if err := SaveSecretKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}
