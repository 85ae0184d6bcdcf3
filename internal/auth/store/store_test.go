package store

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "auth.json"))
}

func TestLoadMissingFile(t *testing.T) {
	creds, err := tempStore(t).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds != nil {
		t.Errorf("missing file should yield nil credentials, got %+v", creds)
	}
}

func TestLoadUnparsableFile(t *testing.T) {
	s := tempStore(t)
	if err := os.WriteFile(s.Path(), []byte("not json at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds != nil {
		t.Errorf("unparsable file should yield nil credentials, got %+v", creds)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := tempStore(t)
	in := &Credentials{
		APIKey:       "sk-test",
		IDToken:      "id-token",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		AccountID:    "acct-1",
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("Load returned nil after Save")
	}
	if out.APIKey != in.APIKey || out.AccessToken != in.AccessToken ||
		out.RefreshToken != in.RefreshToken || out.AccountID != in.AccountID {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.LastRefresh.IsZero() {
		t.Error("Save should stamp last_refresh")
	}
}

func TestSaveFilePermissions(t *testing.T) {
	s := tempStore(t)
	if err := s.Save(&Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestSaveCanonicalShape(t *testing.T) {
	s := tempStore(t)
	if err := s.Save(&Credentials{APIKey: "sk", AccessToken: "at", RefreshToken: "rt"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err = json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved file not JSON: %v", err)
	}
	if _, ok := raw["OPENAI_API_KEY"]; !ok {
		t.Error("OPENAI_API_KEY missing from canonical shape")
	}
	tokens, ok := raw["tokens"].(map[string]any)
	if !ok {
		t.Fatal("tokens block missing")
	}
	if tokens["access_token"] != "at" || tokens["refresh_token"] != "rt" {
		t.Errorf("tokens block = %v", tokens)
	}
	if _, ok = raw["last_refresh"]; !ok {
		t.Error("last_refresh missing")
	}
}

func TestLoadLegacyFlatFields(t *testing.T) {
	s := tempStore(t)
	legacy := `{"api_key":"sk-old","access_token":"at-old","refresh_token":"rt-old","account_id":"acct-old"}`
	if err := os.WriteFile(s.Path(), []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if creds.APIKey != "sk-old" || creds.AccessToken != "at-old" ||
		creds.RefreshToken != "rt-old" || creds.AccountID != "acct-old" {
		t.Errorf("legacy normalization failed: %+v", creds)
	}
}

func TestLoadDerivesAccountIDFromIDToken(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"sub": "user-1",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acct-derived",
		},
	})
	idToken := "h." + base64.RawURLEncoding.EncodeToString(payload) + ".s"

	s := tempStore(t)
	if err := s.Save(&Credentials{IDToken: idToken, AccessToken: "at", AccountID: "acct-stored"}); err != nil {
		t.Fatal(err)
	}
	creds, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccountID != "acct-derived" {
		t.Errorf("account id = %q, want the derived value", creds.AccountID)
	}
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{"nil", nil, false},
		{"empty", &Credentials{}, false},
		{"access token only", &Credentials{AccessToken: "at"}, true},
		{"api key only", &Credentials{APIKey: "sk"}, true},
		{"refresh token only", &Credentials{RefreshToken: "rt"}, false},
		{"whitespace", &Credentials{AccessToken: "   "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Usable(); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	s := tempStore(t)

	if err := s.Validate(); err == nil {
		t.Error("missing file should not validate")
	}

	if err := s.Save(&Credentials{RefreshToken: "rt"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); err == nil {
		t.Error("record without access token or api key should not validate")
	}

	if err := s.Save(&Credentials{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("usable record failed validation: %v", err)
	}
}

func TestStale(t *testing.T) {
	fresh := &Credentials{LastRefresh: time.Now()}
	if fresh.Stale(DefaultRefreshAge) {
		t.Error("fresh record reported stale")
	}
	old := &Credentials{LastRefresh: time.Now().Add(-29 * 24 * time.Hour)}
	if !old.Stale(DefaultRefreshAge) {
		t.Error("old record not reported stale")
	}
	if !(&Credentials{}).Stale(DefaultRefreshAge) {
		t.Error("record without timestamp should be stale")
	}
}

func TestDefaultPathHonorsHomeOverride(t *testing.T) {
	t.Setenv("CHATBRIDGE_HOME", "/tmp/cbtest")
	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join("/tmp/cbtest", "auth.json") {
		t.Errorf("path = %q", path)
	}
}
