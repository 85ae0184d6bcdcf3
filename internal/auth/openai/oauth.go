package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// OAuth endpoint constants for the OpenAI identity provider.
const (
	AuthURL  = "https://auth.openai.com/oauth/authorize"
	TokenURL = "https://auth.openai.com/oauth/token"
	ClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	// CallbackPath is the local path the authorize redirect lands on.
	CallbackPath = "/auth/callback"
)

// HTTPStatusError reports a non-2xx reply from the token endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// TokenExchangeError reports a 2xx token reply that is missing required
// fields. It is fatal to the login flow.
type TokenExchangeError struct {
	Missing string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange response missing %s", e.Missing)
}

// APIKeyExchangeError reports a failed id_token-to-API-key exchange. Login
// continues without an API key when this occurs.
type APIKeyExchangeError struct {
	Reason string
}

func (e *APIKeyExchangeError) Error() string {
	return fmt.Sprintf("api key exchange failed: %s", e.Reason)
}

// TokenSet is the result of a successful authorization-code exchange.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	AccountID    string
	Email        string
}

// Authenticator drives the OAuth2 PKCE exchanges against the OpenAI
// identity provider.
type Authenticator struct {
	httpClient *http.Client
}

// NewAuthenticator returns an Authenticator backed by the given client, or
// a default client with a conservative timeout when nil.
func NewAuthenticator(client *http.Client) *Authenticator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{httpClient: client}
}

// BuildAuthorizeURL assembles the authorize URL for a PKCE session. The
// redirect URI is supplied by the caller because the callback listener may
// have fallen back to an ephemeral port.
func (a *Authenticator) BuildAuthorizeURL(redirectURI, state string, pkce *PKCECodes) (string, error) {
	if pkce == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}
	params := url.Values{
		"client_id":                  {ClientID},
		"response_type":              {"code"},
		"redirect_uri":               {redirectURI},
		"scope":                      {"openid email profile offline_access"},
		"state":                      {state},
		"code_challenge":             {pkce.CodeChallenge},
		"code_challenge_method":      {"S256"},
		"prompt":                     {"login"},
		"id_token_add_organizations": {"true"},
		"codex_cli_simplified_flow":  {"true"},
	}
	return fmt.Sprintf("%s?%s", AuthURL, params.Encode()), nil
}

// ExchangeCodeForTokens trades the authorization code for a token set. A 2xx
// reply that lacks an id_token or refresh_token is treated as a failed
// exchange because the rest of the flow cannot proceed without them.
func (a *Authenticator) ExchangeCodeForTokens(ctx context.Context, code, redirectURI string, pkce *PKCECodes) (*TokenSet, error) {
	if pkce == nil {
		return nil, fmt.Errorf("PKCE codes are required for token exchange")
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {pkce.CodeVerifier},
	}

	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, err
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.IDToken == "" {
		return nil, &TokenExchangeError{Missing: "id_token"}
	}
	if tokenResp.RefreshToken == "" {
		return nil, &TokenExchangeError{Missing: "refresh_token"}
	}

	claims := ParseTokenClaims(tokenResp.IDToken)
	return &TokenSet{
		IDToken:      tokenResp.IDToken,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		AccountID:    claims.AccountID(),
		Email:        claims.Email,
	}, nil
}

// ExchangeIDTokenForAPIKey performs the token-exchange grant that converts
// an id_token into an API key. Callers treat a failure here as non-fatal:
// the access token alone is enough to use the relay.
func (a *Authenticator) ExchangeIDTokenForAPIKey(ctx context.Context, idToken string) (string, error) {
	form := url.Values{
		"grant_type":         {"urn:ietf:params:oauth:grant-type:token-exchange"},
		"client_id":          {ClientID},
		"requested_token":    {"openai-api-key"},
		"subject_token":      {idToken},
		"subject_token_type": {"urn:ietf:params:oauth:token-type:id_token"},
	}

	body, err := a.postForm(ctx, form)
	if err != nil {
		return "", &APIKeyExchangeError{Reason: err.Error()}
	}

	var keyResp struct {
		AccessToken string `json:"access_token"`
	}
	if err = json.Unmarshal(body, &keyResp); err != nil {
		return "", &APIKeyExchangeError{Reason: "unparsable response"}
	}
	if strings.TrimSpace(keyResp.AccessToken) == "" {
		return "", &APIKeyExchangeError{Reason: "no api key in response"}
	}
	return keyResp.AccessToken, nil
}

// RefreshTokens obtains a fresh token set from a refresh token. Used by the
// age-based refresh policy and the retry-on-401 path.
func (a *Authenticator) RefreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {ClientID},
		"refresh_token": {refreshToken},
		"scope":         {"openid profile email"},
	}

	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, err
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tokenResp.RefreshToken == "" {
		tokenResp.RefreshToken = refreshToken
	}

	claims := ParseTokenClaims(tokenResp.IDToken)
	return &TokenSet{
		IDToken:      tokenResp.IDToken,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		AccountID:    claims.AccountID(),
		Email:        claims.Email,
	}, nil
}

func (a *Authenticator) postForm(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("oauth: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
