package googletasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"gtodo/internal/config"
	"gtodo/internal/persist"
)

const (
	// CallbackTimeout bounds the wait for the browser redirect.
	CallbackTimeout = 5 * time.Minute

	// ExchangeTimeout bounds the code-for-token exchange.
	ExchangeTimeout = 30 * time.Second

	callbackStartPort   = 8085
	callbackPortRetries = 5
	callbackPath        = "/callback"
)

var (
	ErrNoCode          = errors.New("no code in oauth callback")
	ErrStateMismatch   = errors.New("oauth callback state mismatch")
	ErrCallbackTimeout = errors.New("oauth callback timed out")
)

// LoadToken reads a stored OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token.json: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token.json: %w", err)
	}
	return &token, nil
}

// SaveToken atomically writes token with mode 0600.
func SaveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return persist.WriteFileAtomic(path, data, 0o600)
}

// TokenUsable reports whether the stored token has a refresh token and can
// still mint an access token.
func TokenUsable(ctx context.Context, cfg *config.Config) bool {
	token, err := LoadToken(cfg.TokenPath())
	if err != nil || token.RefreshToken == "" {
		return false
	}
	oauthConfig, err := OAuthConfig(cfg)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	_, err = oauthConfig.TokenSource(ctx, token).Token()
	return err == nil
}

// Authorizer runs the installed-app OAuth flow with PKCE and a loopback
// redirect.
type Authorizer struct {
	Config *oauth2.Config

	// Prompt shows the consent URL to the user.
	Prompt func(authURL string)

	// Listen opens the callback listener. Defaults to the first free port
	// from 8085.
	Listen func() (net.Listener, error)

	Timeout time.Duration
	Logger  *log.Entry
}

// Authorize blocks until the browser redirect arrives, then exchanges the
// code for a token.
func (a *Authorizer) Authorize(ctx context.Context) (*oauth2.Token, error) {
	listen := a.Listen
	if listen == nil {
		listen = listenLoopback
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = CallbackTimeout
	}
	logger := a.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	listener, err := listen()
	if err != nil {
		return nil, fmt.Errorf("could not bind to local port for OAuth callback: %w", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	conf := *a.Config
	conf.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	logger.WithField("port", port).Debug("waiting for oauth callback")

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)
	deliver := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "State mismatch", http.StatusBadRequest)
			deliver(result{err: ErrStateMismatch})
		case q.Get("code") == "":
			http.Error(w, "No code in callback", http.StatusBadRequest)
			deliver(result{err: ErrNoCode})
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You may close this window.</p></body></html>")
			deliver(result{code: q.Get("code")})
		}
	})
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(result{err: err})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if a.Prompt != nil {
		a.Prompt(conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)))
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var code string
	select {
	case r := <-results:
		if r.err != nil {
			return nil, r.err
		}
		code = r.code
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrCallbackTimeout
	}

	exchangeCtx, cancelExchange := context.WithTimeout(ctx, ExchangeTimeout)
	defer cancelExchange()
	token, err := conf.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

func listenLoopback() (net.Listener, error) {
	var lastErr error
	for i := 0; i < callbackPortRetries; i++ {
		l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", callbackStartPort+i))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
