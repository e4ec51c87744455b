package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

// CredentialKindOAuth marks a broker store entry as an OAuth credential.
const CredentialKindOAuth = "oauth"

// CredentialRecord is one provider entry in the broker's auth file.
// The expires field holds absolute Unix milliseconds.
type CredentialRecord struct {
	Type    string `json:"type"`
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

// IsFresh reports whether the record's expiry is strictly in the future.
func (r CredentialRecord) IsFresh() bool {
	return r.Expires > time.Now().UnixMilli()
}

// Token converts the record back to the canonical token shape.
func (r CredentialRecord) Token() *oauth.Token {
	return &oauth.Token{
		AccessToken:  r.Access,
		RefreshToken: r.Refresh,
		TokenType:    "Bearer",
		ExpiresAt:    time.UnixMilli(r.Expires),
	}
}

// RecordFromToken converts a token to the broker store shape. The expiry
// conversion from seconds to milliseconds happens here and only here.
func RecordFromToken(token *oauth.Token) CredentialRecord {
	return CredentialRecord{
		Type:    CredentialKindOAuth,
		Access:  token.AccessToken,
		Refresh: token.RefreshToken,
		Expires: token.ExpiresAt.UnixMilli(),
	}
}

// BrokerStore reads and writes the broker's own credential file, a JSON map
// of provider name to CredentialRecord.
//
// Updates are read-modify-write: entries belonging to other providers pass
// through as raw JSON, so fields this version of the broker does not know
// about survive an upsert byte-for-byte.
type BrokerStore struct {
	mu   sync.Mutex
	path string
}

// NewBrokerStore creates a broker store for the given auth file path.
func NewBrokerStore(path string) *BrokerStore {
	return &BrokerStore{path: path}
}

// Path returns the auth file path.
func (s *BrokerStore) Path() string {
	return s.path
}

// Load reads all provider entries. A missing or malformed file reads as an
// empty map; the next Upsert rewrites it. Entries that do not decode as
// credential records are skipped (they still survive upserts).
func (s *BrokerStore) Load() map[string]CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]CredentialRecord)
	for provider, raw := range s.loadRaw() {
		var record CredentialRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			logging.Debug("BrokerStore", "Skipping undecodable entry for provider=%s: %v", provider, err)
			continue
		}
		entries[provider] = record
	}
	return entries
}

// Get returns the entry for a provider, if present and decodable.
func (s *BrokerStore) Get(provider string) (CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.loadRaw()[provider]
	if !ok {
		return CredentialRecord{}, false
	}

	var record CredentialRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		logging.Debug("BrokerStore", "Undecodable entry for provider=%s: %v", provider, err)
		return CredentialRecord{}, false
	}
	return record, true
}

// Upsert writes or replaces the entry for a provider, preserving all other
// entries already present in the file.
func (s *BrokerStore) Upsert(provider string, record CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadRaw()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal credential record: %w", err)
	}
	entries[provider] = encoded

	if err := s.write(entries); err != nil {
		return err
	}

	logging.Debug("BrokerStore", "Upserted credential for provider=%s (expires %s)",
		provider, time.UnixMilli(record.Expires).Format(time.RFC3339))
	return nil
}

// Remove deletes the entry for a provider, preserving all other entries.
// Removing a provider that is not present is a no-op.
func (s *BrokerStore) Remove(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadRaw()
	if _, ok := entries[provider]; !ok {
		return nil
	}
	delete(entries, provider)

	if err := s.write(entries); err != nil {
		return err
	}

	logging.Debug("BrokerStore", "Removed credential for provider=%s", provider)
	return nil
}

func (s *BrokerStore) loadRaw() map[string]json.RawMessage {
	entries := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Debug("BrokerStore", "Failed to read %s: %v", s.path, err)
		}
		return entries
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		logging.Warn("BrokerStore", "Malformed auth file %s: %v", s.path, err)
		return make(map[string]json.RawMessage)
	}

	return entries
}

func (s *BrokerStore) write(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth file: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}
