package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Credentials is the persisted token set. ExpiresAt is epoch seconds; the
// access token is usable only while now is before it.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether the access token can still be used at the given
// instant, keeping a small leeway so a token does not expire mid-request.
func (c *Credentials) Valid(now time.Time, leeway time.Duration) bool {
	return c.AccessToken != "" && now.Add(leeway).Unix() < c.ExpiresAt
}

// FileStore persists credentials as a small JSON file at a fixed location.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted credentials. A missing file is not an error;
// it returns (nil, nil) so the caller can fall back to a fresh login.
func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", s.path, err)
	}
	return &creds, nil
}

// Save writes the credentials atomically: the JSON is written to a unique
// temp file in the same directory and renamed over the target, so a crash
// mid-write cannot leave a corrupt credential file behind.
func (s *FileStore) Save(creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".creds-%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
