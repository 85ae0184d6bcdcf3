// Package auth wires the PKCE engine, the local callback listener, and the
// credential store into the interactive login flow.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chatbridge-dev/chatbridge/internal/auth/openai"
	"github.com/chatbridge-dev/chatbridge/internal/auth/store"
	"github.com/chatbridge-dev/chatbridge/internal/browser"
	log "github.com/sirupsen/logrus"
)

// LoginOptions controls the interactive login flow.
type LoginOptions struct {
	// NoBrowser suppresses automatic browser launching; the authorize URL is
	// printed instead.
	NoBrowser bool
	// CallbackPort overrides the preferred callback port.
	CallbackPort int
	// Timeout bounds the wait for the OAuth callback. Zero means 5 minutes.
	Timeout time.Duration
	// HTTPClient overrides the client used for the token exchanges.
	HTTPClient *http.Client
}

// Login runs the full browser login: generate PKCE codes and state, start the
// loopback listener, open the authorize URL, wait for the callback, exchange
// the code for tokens (and best-effort an API key), and persist credentials.
func Login(ctx context.Context, fileStore *store.FileStore, opts LoginOptions) (*store.Credentials, error) {
	pkce, err := openai.GeneratePKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := openai.GenerateState()
	if err != nil {
		return nil, err
	}

	authenticator := openai.NewAuthenticator(opts.HTTPClient)

	var saved *store.Credentials
	var server *openai.CallbackServer
	exchange := func(ctx context.Context, code string) error {
		tokens, errExchange := authenticator.ExchangeCodeForTokens(ctx, code, server.RedirectURI(), pkce)
		if errExchange != nil {
			return errExchange
		}

		creds := &store.Credentials{
			IDToken:      tokens.IDToken,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			AccountID:    tokens.AccountID,
		}

		// The API key exchange is best-effort: OAuth tokens alone are enough
		// to authenticate upstream requests.
		apiKey, errKey := authenticator.ExchangeIDTokenForAPIKey(ctx, tokens.IDToken)
		if errKey != nil {
			log.Warnf("continuing without API key: %v", errKey)
		} else {
			creds.APIKey = apiKey
		}

		if errSave := fileStore.Save(creds); errSave != nil {
			return errSave
		}
		saved = creds
		return nil
	}

	server = openai.NewCallbackServer(state, exchange)
	if err = server.Start(opts.CallbackPort); err != nil {
		return nil, err
	}
	defer func() {
		_ = server.Shutdown(context.Background())
	}()

	authorizeURL, err := authenticator.BuildAuthorizeURL(server.RedirectURI(), state, pkce)
	if err != nil {
		return nil, err
	}

	if opts.NoBrowser {
		fmt.Printf("Open this URL in your browser to continue:\n\n%s\n\n", authorizeURL)
	} else if errOpen := browser.OpenURL(authorizeURL); errOpen != nil {
		log.Warnf("could not launch a browser automatically: %v", errOpen)
		fmt.Printf("Open this URL in your browser to continue:\n\n%s\n\n", authorizeURL)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if err = server.Wait(timeout); err != nil {
		return nil, err
	}

	fmt.Printf("Saving credentials to %s\n", fileStore.Path())
	return saved, nil
}
