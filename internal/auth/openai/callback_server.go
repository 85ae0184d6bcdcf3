package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultCallbackPort is the port the authorize redirect is registered for.
// When it is taken the listener falls back to an OS-assigned port.
const DefaultCallbackPort = 1455

// shutdownGrace gives the final redirect response time to flush before the
// listener tears itself down.
const shutdownGrace = 250 * time.Millisecond

// ExchangeFunc completes the login once an authorization code arrives. It
// performs the token exchanges and persists the resulting credentials.
type ExchangeFunc func(ctx context.Context, code string) error

// listenerPhase tracks the callback listener through its lifecycle:
// idle -> listening -> awaiting callback -> exchanging -> completed|failed.
type listenerPhase int

const (
	phaseIdle listenerPhase = iota
	phaseAwaiting
	phaseExchanging
	phaseCompleted
	phaseFailed
)

// CallbackServer is the short-lived loopback HTTP listener that receives the
// OAuth redirect. A server instance is bound to exactly one PKCE session: the
// expected state value is fixed at construction and the first successful
// exchange consumes the session.
type CallbackServer struct {
	mu       sync.Mutex
	phase    listenerPhase
	state    string
	exchange ExchangeFunc

	server   *http.Server
	listener net.Listener
	port     int

	done chan error
}

// NewCallbackServer creates a listener expecting the given CSRF state.
func NewCallbackServer(state string, exchange ExchangeFunc) *CallbackServer {
	return &CallbackServer{
		state:    state,
		exchange: exchange,
		done:     make(chan error, 1),
	}
}

// Start binds to the preferred loopback port, falling back to an ephemeral
// port when it is already in use, and begins serving the callback routes.
func (s *CallbackServer) Start(preferredPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseIdle {
		return fmt.Errorf("callback server already started")
	}
	if preferredPort <= 0 {
		preferredPort = DefaultCallbackPort
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferredPort))
	if err != nil {
		log.Warnf("port %d unavailable, falling back to an ephemeral port: %v", preferredPort, err)
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to bind callback listener: %w", err)
		}
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc("/success", s.handleSuccess)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.phase = phaseAwaiting
	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.sendDone(fmt.Errorf("callback server failed: %w", errServe))
		}
	}()
	return nil
}

// Port returns the bound port. Valid only after Start.
func (s *CallbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// RedirectURI returns the redirect URI matching the bound port.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", s.Port(), CallbackPath)
}

// Wait blocks until the login flow completes, fails, or the timeout fires.
func (s *CallbackServer) Wait(timeout time.Duration) error {
	select {
	case err := <-s.done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for OAuth callback")
	}
}

// Shutdown stops the listener.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// handleCallback validates the redirect parameters and runs the exchanges.
// Validation failures answer 400 and keep the session alive so the user can
// retry from the browser; only a successful exchange (or an exchange error)
// consumes the session.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	s.mu.Lock()
	switch s.phase {
	case phaseCompleted, phaseExchanging, phaseFailed:
		s.mu.Unlock()
		http.Error(w, "Login flow already finished", http.StatusConflict)
		return
	case phaseAwaiting:
	default:
		s.mu.Unlock()
		http.Error(w, "Listener not ready", http.StatusServiceUnavailable)
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		s.mu.Unlock()
		log.Errorf("OAuth provider returned error: %s", errParam)
		http.Error(w, fmt.Sprintf("OAuth error: %s", errParam), http.StatusBadRequest)
		return
	}
	if code == "" {
		s.mu.Unlock()
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}
	if state != s.state {
		s.mu.Unlock()
		log.Error("OAuth state mismatch, rejecting callback")
		http.Error(w, "State parameter mismatch", http.StatusBadRequest)
		return
	}

	s.phase = phaseExchanging
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	err := s.exchange(ctx, code)

	s.mu.Lock()
	if err != nil {
		s.phase = phaseFailed
		s.mu.Unlock()
		http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusInternalServerError)
		s.sendDone(err)
		s.scheduleShutdown()
		return
	}
	s.phase = phaseCompleted
	s.mu.Unlock()

	http.Redirect(w, r, "/success", http.StatusFound)
	s.sendDone(nil)
	s.scheduleShutdown()
}

func (s *CallbackServer) handleSuccess(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(loginSuccessHTML)); err != nil {
		log.Errorf("failed to write success page: %v", err)
	}
}

// scheduleShutdown tears the listener down after a short grace period so the
// in-flight response can reach the browser.
func (s *CallbackServer) scheduleShutdown() {
	go func() {
		time.Sleep(shutdownGrace)
		if err := s.Shutdown(context.Background()); err != nil {
			log.Debugf("callback server shutdown: %v", err)
		}
	}()
}

func (s *CallbackServer) sendDone(err error) {
	select {
	case s.done <- err:
	default:
	}
}

const loginSuccessHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Login successful</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f6f6f6; }
    .card { background: #fff; border-radius: 12px; padding: 48px 56px; box-shadow: 0 2px 12px rgba(0,0,0,.08); text-align: center; }
    h1 { font-size: 22px; margin: 0 0 8px; }
    p { color: #555; margin: 0; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Login successful</h1>
    <p>Credentials saved. You can close this tab and return to the terminal.</p>
  </div>
</body>
</html>
`
