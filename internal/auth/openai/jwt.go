package openai

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// TokenClaims is the subset of id_token claims the relay cares about. The
// token is parsed without signature verification; claims are used only for
// convenience values such as the account identifier, never for authorization
// decisions.
type TokenClaims struct {
	Email    string   `json:"email"`
	Sub      string   `json:"sub"`
	AuthInfo AuthInfo `json:"https://api.openai.com/auth"`
}

// AuthInfo carries the ChatGPT-specific claim block embedded in the id_token.
type AuthInfo struct {
	AccountID string `json:"chatgpt_account_id"`
	PlanType  string `json:"chatgpt_plan_type"`
	UserID    string `json:"chatgpt_user_id"`
}

// ParseTokenClaims decodes the payload segment of a three-part JWT and
// unmarshals it into TokenClaims. Malformed input yields empty claims rather
// than an error so callers never have to branch on parse failures.
func ParseTokenClaims(token string) TokenClaims {
	var claims TokenClaims
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims
	}
	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return claims
	}
	_ = json.Unmarshal(payload, &claims)
	return claims
}

// AccountID returns the ChatGPT account identifier, falling back to the
// token subject when the custom claim is absent.
func (c TokenClaims) AccountID() string {
	if c.AuthInfo.AccountID != "" {
		return c.AuthInfo.AccountID
	}
	return c.Sub
}

// base64URLDecode decodes URL-safe base64 that may omit padding, as JWT
// segments do.
func base64URLDecode(data string) ([]byte, error) {
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}
	return base64.URLEncoding.DecodeString(data)
}
