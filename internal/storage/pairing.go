package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PairingRecord is the dapp side of the active pairing, written by
// `greeter pair` and read by every command that talks to the wallet.
type PairingRecord struct {
	ID        string    `json:"id"`
	DappToken string    `json:"dappToken"`
	RelayURL  string    `json:"relayUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the record's tokens have expired at now.
func (r *PairingRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// SavePairing writes rec as JSON with owner-only permissions, replacing any
// previous pairing.
func SavePairing(path string, rec *PairingRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create pairing dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pairing: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write pairing: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write pairing: %w", err)
	}
	return nil
}

// LoadPairing reads a record written by SavePairing. A missing file yields an
// error matching fs.ErrNotExist.
func LoadPairing(path string) (*PairingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pairing: %w", err)
	}
	var rec PairingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode pairing: %w", err)
	}
	if rec.DappToken == "" {
		return nil, fmt.Errorf("pairing %s has no token", path)
	}
	return &rec, nil
}
