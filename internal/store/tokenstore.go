package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

// cliCredentials is the on-disk shape of the Kimi CLI credential file.
// The expires_at field holds absolute Unix seconds.
type cliCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// TokenStore reads and writes the credential file shared with the Kimi CLI.
//
// The file is owned cooperatively: either tool may rewrite it at any time, so
// reads fail soft (any problem reads as "no token") and the broker never
// deletes the file. Writes are atomic (temp file + rename) so a concurrent
// reader never observes a half-written document.
type TokenStore struct {
	mu   sync.Mutex
	path string

	// saveFailures counts swallowed write errors. Persistence of the interop
	// file is best-effort and must not block the broker's own operation, but
	// the failures are still worth surfacing to observability.
	saveFailures atomic.Uint64
}

// NewTokenStore creates a token store for the given credential file path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the credential file path.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the companion credential file. It returns nil when the file is
// missing, unreadable, malformed, or lacks the required fields; none of those
// conditions are errors for the caller.
func (s *TokenStore) Load() *oauth.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Debug("TokenStore", "Failed to read %s: %v", s.path, err)
		}
		return nil
	}

	var creds cliCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		logging.Warn("TokenStore", "Malformed credential file %s: %v", s.path, err)
		return nil
	}

	if creds.AccessToken == "" || creds.ExpiresAt == 0 {
		logging.Debug("TokenStore", "Credential file %s is missing required fields", s.path)
		return nil
	}

	tokenType := creds.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &oauth.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    tokenType,
		Scope:        creds.Scope,
		ExpiresAt:    time.Unix(creds.ExpiresAt, 0),
	}
}

// Save writes the token to the companion credential file. Failures are logged
// and counted, never returned: losing the interop file must not block the
// broker from using the token it already holds in memory.
func (s *TokenStore) Save(token *oauth.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(token); err != nil {
		s.saveFailures.Add(1)
		logging.Warn("TokenStore", "Failed to persist credentials to %s (write failures so far: %d): %v",
			s.path, s.saveFailures.Load(), err)
	}
}

// SaveFailures returns the number of swallowed write errors.
func (s *TokenStore) SaveFailures() uint64 {
	return s.saveFailures.Load()
}

func (s *TokenStore) save(token *oauth.Token) error {
	creds := cliCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt.Unix(),
		Scope:        token.Scope,
		TokenType:    token.TokenType,
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	return writeFileAtomic(s.path, data)
}

// writeFileAtomic writes data to path with 0600 permissions via a temp file
// and rename, creating parent directories (0700) as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Restrict permissions before any secret bytes hit the disk.
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
