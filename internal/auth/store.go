package auth

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credential is the durable application credential issued once, when the
// Freebox owner first approves this application. It never changes afterwards.
type Credential struct {
	AppToken string `json:"app_token"`
	TrackID  string `json:"track_id"`
}

// Store persists the application credential as a single JSON file.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the persisted credential. ok is false when no credential has
// been stored yet.
func (s *Store) Load() (cred Credential, ok bool, err error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("read credential file: %w", err)
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("parse credential file %s: %w", s.path, err)
	}
	if cred.AppToken == "" || cred.TrackID == "" {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Save writes the credential. The token is a secret, hence the restrictive
// mode.
func (s *Store) Save(cred Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}
