// Package openai implements the OAuth2 PKCE login flow against the OpenAI
// identity provider. It generates the PKCE verifier/challenge pair, builds the
// authorize URL, exchanges the authorization code for tokens, and optionally
// trades the resulting id_token for a long-lived API key.
package openai

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds the verifier/challenge pair for a single OAuth2 PKCE flow
// as specified in RFC 7636. A pair is single-use: it is generated for one
// authorize request and discarded once the callback completes.
type PKCECodes struct {
	// CodeVerifier is the cryptographically random secret that correlates
	// the authorization request with the token request.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the base64url-encoded SHA256 digest of the verifier.
	CodeChallenge string `json:"code_challenge"`
}

// GeneratePKCECodes creates a fresh verifier and its S256 challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	verifier, err := randomURLSafe(64)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: ChallengeFromVerifier(verifier),
	}, nil
}

// ChallengeFromVerifier derives the S256 code challenge for a verifier.
// The transform is deterministic so a challenge can always be re-derived
// and checked against a stored verifier.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sum[:])
}

// GenerateState creates the random state nonce used to bind the authorize
// redirect to the local callback and reject CSRF attempts.
func GenerateState() (string, error) {
	state, err := randomURLSafe(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
