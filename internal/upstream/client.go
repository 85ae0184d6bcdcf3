// Package upstream talks to the backend chat service. It supports a blocking
// JSON completion call returning one accumulated text, and a streaming SSE
// call yielding text deltas as they arrive.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatbridge-dev/chatbridge/internal/auth/openai"
	"github.com/chatbridge-dev/chatbridge/internal/auth/store"
	"github.com/chatbridge-dev/chatbridge/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrCredentialUnusable means no stored credential can authenticate a
// request; the user must log in first.
var ErrCredentialUnusable = errors.New("no usable credentials: run with -login first")

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}

// Prompt is the outbound request: the user's input plus optional system
// instructions.
type Prompt struct {
	Instructions   string
	Input          string
	Model          string
	ConversationID string
}

// Backend is the surface the relay handler consumes. The real client and the
// scripted mock both implement it.
type Backend interface {
	// Complete sends the prompt and returns the accumulated reply text.
	Complete(ctx context.Context, p Prompt) (string, error)
	// Stream sends the prompt and yields reply deltas. The error channel
	// delivers at most one terminal error after the delta channel closes.
	Stream(ctx context.Context, p Prompt) (<-chan string, <-chan error)
}

// Client is the real backend chat client.
type Client struct {
	baseURL        string
	model          string
	fallbackModels []string
	refreshAge     time.Duration
	httpClient     *http.Client
	store          *store.FileStore
	authenticator  *openai.Authenticator
}

// NewClient builds a client from the runtime configuration.
func NewClient(cfg *config.Config, fileStore *store.FileStore) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.UpstreamBaseURL, "/"),
		model:          cfg.Model,
		fallbackModels: cfg.FallbackModels,
		refreshAge:     time.Duration(cfg.RefreshAgeDays) * 24 * time.Hour,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
		store:          fileStore,
		authenticator:  openai.NewAuthenticator(nil),
	}
}

// Complete performs the blocking JSON call. On an "unsupported model" class
// of error it retries the configured fallback model names in order.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	text, err := c.completeModel(ctx, p, c.pickModel(p))
	if err == nil || !isUnsupportedModel(err) {
		return text, err
	}
	for _, alternate := range c.fallbackModels {
		log.Warnf("model rejected upstream, retrying with %q", alternate)
		text, err = c.completeModel(ctx, p, alternate)
		if err == nil || !isUnsupportedModel(err) {
			return text, err
		}
	}
	return "", err
}

func (c *Client) completeModel(ctx context.Context, p Prompt, model string) (string, error) {
	body := buildChatBody(p, model, false)
	resp, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upstream response: %w", err)
	}
	text := gjson.GetBytes(raw, "choices.0.message.content").String()
	if text == "" {
		// Some deployments reply with the Responses shape instead.
		text = gjson.GetBytes(raw, "output_text").String()
	}
	return text, nil
}

// Stream performs the SSE call and forwards text deltas. Individual frames
// that fail to parse are logged and skipped; they never abort the stream.
func (c *Client) Stream(ctx context.Context, p Prompt) (<-chan string, <-chan error) {
	deltas := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		body := buildChatBody(p, c.pickModel(p), true)
		resp, err := c.send(ctx, body)
		if err != nil {
			errs <- err
			return
		}
		defer closeBody(resp)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(nil, 1_048_576) // 1MB
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(line[5:])
			if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
				continue
			}
			if !gjson.ValidBytes(payload) {
				log.Debugf("skipping malformed stream frame: %.80s", payload)
				continue
			}
			delta := gjson.GetBytes(payload, "choices.0.delta.content").String()
			if delta == "" {
				continue
			}
			select {
			case deltas <- delta:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			errs <- fmt.Errorf("upstream stream read: %w", errScan)
		}
	}()

	return deltas, errs
}

// send issues the request with current credentials. A 401 triggers one token
// refresh followed by a single retry; a second failure is terminal.
func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	creds, err := c.usableCredentials(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, body, creds)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.checkStatus(resp)
	}
	closeBody(resp)

	refreshed, errRefresh := c.refresh(ctx, creds)
	if errRefresh != nil {
		return nil, &StatusError{StatusCode: http.StatusUnauthorized, Message: "token refresh failed: " + errRefresh.Error()}
	}
	resp, err = c.post(ctx, body, refreshed)
	if err != nil {
		return nil, err
	}
	return c.checkStatus(resp)
}

func (c *Client) checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeBody(resp)
	message := strings.TrimSpace(string(raw))
	if m := gjson.GetBytes(raw, "error.message"); m.Exists() {
		message = m.String()
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, Message: message}
}

func (c *Client) post(ctx context.Context, body []byte, creds *store.Credentials) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	if creds.AccountID != "" {
		req.Header.Set("Chatgpt-Account-Id", creds.AccountID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// usableCredentials loads the stored record and refreshes it proactively
// once it passes the configured age.
func (c *Client) usableCredentials(ctx context.Context) (*store.Credentials, error) {
	creds, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if !creds.Usable() {
		return nil, ErrCredentialUnusable
	}
	if creds.Stale(c.refreshAge) && creds.RefreshToken != "" {
		if refreshed, errRefresh := c.refresh(ctx, creds); errRefresh == nil {
			return refreshed, nil
		} else {
			log.Warnf("proactive token refresh failed, using stored credentials: %v", errRefresh)
		}
	}
	return creds, nil
}

func (c *Client) refresh(ctx context.Context, creds *store.Credentials) (*store.Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	tokens, err := c.authenticator.RefreshTokens(ctx, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	updated := &store.Credentials{
		APIKey:       creds.APIKey,
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		AccountID:    tokens.AccountID,
		LastRefresh:  time.Now(),
	}
	if updated.AccountID == "" {
		updated.AccountID = creds.AccountID
	}
	if err = c.store.Save(updated); err != nil {
		log.Warnf("failed to persist refreshed credentials: %v", err)
	}
	return updated, nil
}

func (c *Client) pickModel(p Prompt) string {
	if strings.TrimSpace(p.Model) != "" {
		return p.Model
	}
	return c.model
}

func buildChatBody(p Prompt, model string, stream bool) []byte {
	body := `{"model":"","messages":[]}`
	body, _ = sjson.Set(body, "model", model)
	idx := 0
	if strings.TrimSpace(p.Instructions) != "" {
		body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.role", idx), "system")
		body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.content", idx), p.Instructions)
		idx++
	}
	body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.role", idx), "user")
	body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.content", idx), p.Input)
	if stream {
		body, _ = sjson.Set(body, "stream", true)
	}
	return []byte(body)
}

func isUnsupportedModel(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	message := strings.ToLower(statusErr.Message)
	return strings.Contains(message, "unsupported model") ||
		strings.Contains(message, "model_not_found") ||
		strings.Contains(message, "unknown model")
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		log.Errorf("upstream: close response body error: %v", err)
	}
}
