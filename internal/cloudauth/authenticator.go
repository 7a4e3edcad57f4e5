// Package cloudauth obtains and caches the bearer credential used to reach
// the remote file store.
package cloudauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"expensia/internal/core"
	"expensia/internal/drive"
)

const (
	DefaultListenAddr     = "127.0.0.1:8085"
	DefaultConsentTimeout = 5 * time.Minute
	callbackPath          = "/callback"
	cancelPath            = "/cancel"
)

// CredentialStore persists the cached token. Implemented by localstore.Store.
type CredentialStore interface {
	Credential(ctx context.Context) (*oauth2.Token, error)
	SetCredential(ctx context.Context, tok *oauth2.Token) error
	ClearCredential(ctx context.Context) error
}

type Config struct {
	OAuth *oauth2.Config
	// ListenAddr is where the loopback callback server listens. Port 0
	// picks a free port.
	ListenAddr     string
	ConsentTimeout time.Duration
	// ProbeTimeout bounds the credential probe request.
	ProbeTimeout time.Duration
}

type Authenticator struct {
	cfg    Config
	store  CredentialStore
	opener Opener

	flow   sync.Mutex // one consent flow at a time
	mu     sync.Mutex // guards refresh and prober
	prober drive.Prober
}

func New(cfg Config, store CredentialStore, opener Opener) *Authenticator {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = DefaultConsentTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if opener == nil {
		opener = BrowserOpener()
	}
	return &Authenticator{cfg: cfg, store: store, opener: opener}
}

// SetProber wires the remote used by Probe. The remote itself authorizes
// through this authenticator, hence the late binding.
func (a *Authenticator) SetProber(p drive.Prober) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prober = p
}

type callbackResult struct {
	code string
	err  error
}

// Authenticate runs the interactive consent flow: it serves a loopback
// callback, opens the consent page in the user's browser and waits for the
// redirect. The result is one of core.ErrAuthBlocked (browser could not be
// opened), core.ErrAuthDenied (no usable code or token), core.ErrAuthCancelled
// (context done, cancel page hit or consent timeout) or nil with the token
// persisted.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	if a.cfg.OAuth == nil {
		return errors.New("oauth client is not configured")
	}

	a.flow.Lock()
	defer a.flow.Unlock()

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}

	conf := *a.cfg.OAuth
	conf.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state, err := randomState()
	if err != nil {
		ln.Close()
		return fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.WarnContext(ctx, "Callback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	if err := a.opener.Open(authURL); err != nil {
		slog.WarnContext(ctx, "Could not open consent page", "error", err)
		return fmt.Errorf("%w: %v", core.ErrAuthBlocked, err)
	}
	slog.InfoContext(ctx, "Waiting for OAuth consent", "redirect_url", conf.RedirectURL, "timeout", a.cfg.ConsentTimeout)

	timer := time.NewTimer(a.cfg.ConsentTimeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrAuthCancelled, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: no response within %s", core.ErrAuthCancelled, a.cfg.ConsentTimeout)
	}
	if res.err != nil {
		return res.err
	}

	tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("%w: token exchange: %v", core.ErrAuthDenied, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return core.ErrAuthDenied
	}

	if err := a.store.SetCredential(ctx, tok); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	slog.InfoContext(ctx, "Cloud credential obtained",
		"has_refresh_token", tok.RefreshToken != "",
		"expiry", tok.Expiry)
	return nil
}

func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			deliver(callbackResult{err: fmt.Errorf("%w: %s", core.ErrAuthDenied, q.Get("error"))})
			http.Error(w, "Authorization was not granted. You may close this window.", http.StatusForbidden)
		case q.Get("state") != state:
			deliver(callbackResult{err: fmt.Errorf("%w: state mismatch", core.ErrAuthDenied)})
			http.Error(w, "Invalid authorization response.", http.StatusBadRequest)
		case q.Get("code") == "":
			deliver(callbackResult{err: core.ErrAuthDenied})
			http.Error(w, "No authorization code received.", http.StatusBadRequest)
		default:
			deliver(callbackResult{code: q.Get("code")})
			fmt.Fprintln(w, "Authorization complete. You may close this window and return to Expensia.")
		}
	})
	mux.HandleFunc(cancelPath, func(w http.ResponseWriter, r *http.Request) {
		deliver(callbackResult{err: core.ErrAuthCancelled})
		fmt.Fprintln(w, "Authorization cancelled.")
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
