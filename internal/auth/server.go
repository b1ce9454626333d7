package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCallbackPort is the port the login flow tries first.
const DefaultCallbackPort = 1455

// CallbackTimeout bounds how long the login flow waits for the browser
// round-trip before giving up.
const CallbackTimeout = 5 * time.Minute

// CallbackResult is the authorization code and state returned by the
// provider's redirect.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackServer is a short-lived local HTTP server that receives exactly
// one OAuth redirect on /auth/callback.
type CallbackServer struct {
	listener      net.Listener
	expectedState string
}

// NewCallbackServer binds 127.0.0.1:DefaultCallbackPort, falling back to an
// OS-chosen port if that one is taken.
func NewCallbackServer(expectedState string) (*CallbackServer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", DefaultCallbackPort))
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("bind callback listener: %w", err)
		}
	}
	return &CallbackServer{listener: ln, expectedState: expectedState}, nil
}

// Port returns the bound TCP port.
func (s *CallbackServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// RedirectURI returns the redirect_uri to register with the provider.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/auth/callback", s.Port())
}

// WaitForCallback serves until /auth/callback is hit, the timeout elapses, or
// ctx is cancelled.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (CallbackResult, error) {
	resultCh := make(chan CallbackResult, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.parseCallback(r.URL)
		if err != nil {
			writeErrorPage(w, err)
			errCh <- err
			return
		}
		writeSuccessPage(w)
		resultCh <- res
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("oauth callback server stopped unexpectedly")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	timeout := time.NewTimer(CallbackTimeout)
	defer timeout.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return CallbackResult{}, err
	case <-timeout.C:
		return CallbackResult{}, errors.New("timed out waiting for OAuth callback")
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

func (s *CallbackServer) parseCallback(u *url.URL) (CallbackResult, error) {
	q := u.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		desc := q.Get("error_description")
		if desc != "" {
			return CallbackResult{}, fmt.Errorf("%s: %s", errMsg, desc)
		}
		return CallbackResult{}, errors.New(errMsg)
	}

	state := q.Get("state")
	if state == "" {
		return CallbackResult{}, errors.New("Missing state parameter")
	}
	if state != s.expectedState {
		return CallbackResult{}, errors.New("State mismatch - possible CSRF attack")
	}

	code := q.Get("code")
	if code == "" {
		return CallbackResult{}, errors.New("Missing authorization code")
	}

	return CallbackResult{Code: code, State: state}, nil
}

func writeSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<html><body style="font-family:sans-serif;text-align:center;margin-top:10%">
<h1 style="color:#22c55e">Login Successful!</h1>
<p>You can close this window and return to the terminal.</p>
</body></html>`)
}

func writeErrorPage(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `<html><body style="font-family:sans-serif;text-align:center;margin-top:10%%">
<h1 style="color:#ef4444">Login Failed</h1>
<p>%s</p>
</body></html>`, htmlEscape(err.Error()))
}

func htmlEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '&':
			out = append(out, []rune("&amp;")...)
		case '<':
			out = append(out, []rune("&lt;")...)
		case '>':
			out = append(out, []rune("&gt;")...)
		case '"':
			out = append(out, []rune("&quot;")...)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
