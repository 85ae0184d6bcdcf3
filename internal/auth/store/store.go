// Package store persists relay credentials to a local JSON file. The file is
// shared across process invocations, so every write produces a complete valid
// file (write-temp-then-rename) and carries owner-only permissions.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chatbridge-dev/chatbridge/internal/auth/openai"
	log "github.com/sirupsen/logrus"
)

// DefaultRefreshAge is how old a credential record may grow before callers
// should refresh it proactively.
const DefaultRefreshAge = 28 * 24 * time.Hour

// Credentials is the canonical credential record. A record is usable when it
// carries an access token or an API key; everything else is optional.
type Credentials struct {
	APIKey       string
	IDToken      string
	AccessToken  string
	RefreshToken string
	AccountID    string
	LastRefresh  time.Time
}

// Usable reports whether the record can authenticate an upstream request.
func (c *Credentials) Usable() bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.AccessToken) != "" || strings.TrimSpace(c.APIKey) != ""
}

// Stale reports whether the record is older than maxAge. Records without a
// save timestamp are treated as stale.
func (c *Credentials) Stale(maxAge time.Duration) bool {
	if c == nil || c.LastRefresh.IsZero() {
		return true
	}
	return time.Since(c.LastRefresh) > maxAge
}

// fileFormat is the on-disk shape. Tokens are nested under "tokens"; the API
// key keeps its historical environment-variable name.
type fileFormat struct {
	APIKey      string     `json:"OPENAI_API_KEY,omitempty"`
	Tokens      fileTokens `json:"tokens"`
	LastRefresh string     `json:"last_refresh,omitempty"`

	// Legacy flat fields accepted on read only.
	LegacyAPIKey       string `json:"api_key,omitempty"`
	LegacyIDToken      string `json:"id_token,omitempty"`
	LegacyAccessToken  string `json:"access_token,omitempty"`
	LegacyRefreshToken string `json:"refresh_token,omitempty"`
	LegacyAccountID    string `json:"account_id,omitempty"`
}

type fileTokens struct {
	IDToken      string `json:"id_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
}

// DefaultPath returns the per-user credential file location, honoring the
// CHATBRIDGE_HOME override.
func DefaultPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("CHATBRIDGE_HOME")); dir != "" {
		return filepath.Join(dir, "auth.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".chatbridge", "auth.json"), nil
}

// FileStore reads and writes the credential file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store bound to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads and normalizes the credential record. A missing or unparsable
// file yields (nil, nil): the caller treats both the same as "not logged in".
func (s *FileStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var raw fileFormat
	if err = json.Unmarshal(data, &raw); err != nil {
		log.Warnf("credential file %s is not valid JSON, ignoring", s.path)
		return nil, nil
	}

	creds := &Credentials{
		APIKey:       firstNonEmpty(raw.APIKey, raw.LegacyAPIKey),
		IDToken:      firstNonEmpty(raw.Tokens.IDToken, raw.LegacyIDToken),
		AccessToken:  firstNonEmpty(raw.Tokens.AccessToken, raw.LegacyAccessToken),
		RefreshToken: firstNonEmpty(raw.Tokens.RefreshToken, raw.LegacyRefreshToken),
		AccountID:    firstNonEmpty(raw.Tokens.AccountID, raw.LegacyAccountID),
	}
	if raw.LastRefresh != "" {
		if ts, errParse := time.Parse(time.RFC3339, raw.LastRefresh); errParse == nil {
			creds.LastRefresh = ts
		}
	}

	// A freshly derived account id beats whatever was stored: the stored
	// value may predate an account change on the same machine.
	if id := deriveAccountID(creds); id != "" {
		creds.AccountID = id
	}

	return creds, nil
}

// Save serializes the record with a refreshed timestamp. The temp file is
// created in the target directory so the rename stays on one filesystem.
func (s *FileStore) Save(creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("credentials are nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if creds.LastRefresh.IsZero() {
		creds.LastRefresh = time.Now()
	}
	out := fileFormat{
		APIKey: creds.APIKey,
		Tokens: fileTokens{
			IDToken:      creds.IDToken,
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			AccountID:    creds.AccountID,
		},
		LastRefresh: creds.LastRefresh.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write credential file: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close credential file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Validate reports whether the stored record can authenticate requests.
// Called after external file changes so a bad write surfaces immediately
// instead of on the next upstream request.
func (s *FileStore) Validate() error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	if !creds.Usable() {
		return fmt.Errorf("credential file holds no usable credentials")
	}
	return nil
}

// deriveAccountID extracts the account id from stored token claims, trying
// the id_token first and the access token second.
func deriveAccountID(creds *Credentials) string {
	for _, token := range []string{creds.IDToken, creds.AccessToken} {
		if token == "" {
			continue
		}
		if id := openai.ParseTokenClaims(token).AccountID(); id != "" {
			return id
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
