package cloudauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"expensia/internal/core"
	"expensia/internal/localstore"
	"expensia/internal/storage/memory"
)

// tokenServer is a minimal OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32
	reject    atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if ts.reject.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code_verifier") == "" || r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_request"}`)
				return
			}
			ts.exchanges.Add(1)
			fmt.Fprint(w, `{"access_token":"access-1","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`)
		case "refresh_token":
			ts.refreshes.Add(1)
			fmt.Fprint(w, `{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.test/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{Scope},
	}
}

func newStore(t *testing.T) *localstore.Store {
	s, err := localstore.Open(context.Background(), memory.NewKV())
	require.NoError(t, err)
	return s
}

// redirectingOpener plays the browser: it follows the consent URL straight
// to the callback with the given query.
func redirectingOpener(t *testing.T, query func(state string) url.Values) Opener {
	return OpenerFunc(func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))

		target := q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode()
		go func() {
			resp, err := http.Get(target)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	})
}

func newAuthenticator(t *testing.T, ts *tokenServer, store CredentialStore, opener Opener) *Authenticator {
	return New(Config{
		OAuth:          ts.oauthConfig(),
		ListenAddr:     "127.0.0.1:0",
		ConsentTimeout: 5 * time.Second,
	}, store, opener)
}

func TestAuthenticateStoresToken(t *testing.T) {
	ts := newTokenServer(t)
	store := newStore(t)
	a := newAuthenticator(t, ts, store, redirectingOpener(t, func(state string) url.Values {
		return url.Values{"code": {"good-code"}, "state": {state}}
	}))

	require.NoError(t, a.Authenticate(context.Background()))

	tok, err := store.Credential(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, int32(1), ts.exchanges.Load())

	ok, err := a.IsAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name    string
		opener  func(t *testing.T) Opener
		ctx     func() (context.Context, context.CancelFunc)
		timeout time.Duration
		wantErr error
	}{
		{
			name: "browser blocked",
			opener: func(t *testing.T) Opener {
				return OpenerFunc(func(string) error { return ErrNoBrowser })
			},
			wantErr: core.ErrAuthBlocked,
		},
		{
			name: "user denied consent",
			opener: func(t *testing.T) Opener {
				return redirectingOpener(t, func(state string) url.Values {
					return url.Values{"error": {"access_denied"}, "state": {state}}
				})
			},
			wantErr: core.ErrAuthDenied,
		},
		{
			name: "state mismatch",
			opener: func(t *testing.T) Opener {
				return redirectingOpener(t, func(string) url.Values {
					return url.Values{"code": {"good-code"}, "state": {"forged"}}
				})
			},
			wantErr: core.ErrAuthDenied,
		},
		{
			name: "missing code",
			opener: func(t *testing.T) Opener {
				return redirectingOpener(t, func(state string) url.Values {
					return url.Values{"state": {state}}
				})
			},
			wantErr: core.ErrAuthDenied,
		},
		{
			name: "exchange rejected",
			opener: func(t *testing.T) Opener {
				return redirectingOpener(t, func(state string) url.Values {
					return url.Values{"code": {"bad-code"}, "state": {state}}
				})
			},
			wantErr: core.ErrAuthDenied,
		},
		{
			name: "consent window closed",
			opener: func(t *testing.T) Opener {
				return OpenerFunc(func(authURL string) error {
					u, _ := url.Parse(authURL)
					redirect, _ := url.Parse(u.Query().Get("redirect_uri"))
					redirect.Path = cancelPath
					go func() {
						if resp, err := http.Get(redirect.String()); err == nil {
							resp.Body.Close()
						}
					}()
					return nil
				})
			},
			wantErr: core.ErrAuthCancelled,
		},
		{
			name: "no response before timeout",
			opener: func(t *testing.T) Opener {
				return OpenerFunc(func(string) error { return nil })
			},
			timeout: 50 * time.Millisecond,
			wantErr: core.ErrAuthCancelled,
		},
		{
			name: "context cancelled",
			opener: func(t *testing.T) Opener {
				return OpenerFunc(func(string) error { return nil })
			},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			wantErr: core.ErrAuthCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			store := newStore(t)
			a := newAuthenticator(t, ts, store, tt.opener(t))
			if tt.timeout > 0 {
				a.cfg.ConsentTimeout = tt.timeout
			}

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			err := a.Authenticate(ctx)
			assert.ErrorIs(t, err, tt.wantErr)

			tok, err := store.Credential(context.Background())
			require.NoError(t, err)
			assert.Nil(t, tok)
		})
	}
}

func TestCredentialNotAuthenticated(t *testing.T) {
	a := New(Config{}, newStore(t), nil)

	_, err := a.Credential(context.Background())
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)

	ok, err := a.IsAuthenticated(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialValidTokenReturnedAsIs(t *testing.T) {
	ts := newTokenServer(t)
	store := newStore(t)
	require.NoError(t, store.SetCredential(context.Background(), &oauth2.Token{
		AccessToken: "cached",
		Expiry:      time.Now().Add(time.Hour),
	}))
	a := newAuthenticator(t, ts, store, nil)

	tok, err := a.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
	assert.Zero(t, ts.refreshes.Load())
}

func TestCredentialExpiredWithoutRefreshIsCleared(t *testing.T) {
	ts := newTokenServer(t)
	store := newStore(t)
	require.NoError(t, store.SetCredential(context.Background(), &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	}))
	a := newAuthenticator(t, ts, store, nil)

	_, err := a.Credential(context.Background())
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)

	tok, err := store.Credential(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestCredentialRefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t)
	store := newStore(t)
	require.NoError(t, store.SetCredential(context.Background(), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	}))
	a := newAuthenticator(t, ts, store, nil)

	tok, err := a.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, int32(1), ts.refreshes.Load())

	stored, err := store.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken, "refresh token kept when the server omits it")
}

func TestCredentialRejectedRefreshIsCleared(t *testing.T) {
	ts := newTokenServer(t)
	ts.reject.Store(true)
	store := newStore(t)
	require.NoError(t, store.SetCredential(context.Background(), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	}))
	a := newAuthenticator(t, ts, store, nil)

	_, err := a.Credential(context.Background())
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)

	tok, err := store.Credential(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok)
}

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func TestProbe(t *testing.T) {
	tests := []struct {
		name      string
		probeErr  error
		wantErr   error
		wantKept  bool
		noCreds   bool
		wantCalls int
	}{
		{name: "accepted", wantKept: true, wantCalls: 1},
		{
			name:      "rejected token",
			probeErr:  fmt.Errorf("probe credential: %w", &googleapi.Error{Code: http.StatusUnauthorized}),
			wantErr:   core.ErrNotAuthenticated,
			wantCalls: 1,
		},
		{
			name:      "network failure keeps credential",
			probeErr:  errors.New("dial tcp: connection refused"),
			wantKept:  true,
			wantCalls: 1,
		},
		{
			name:    "nothing cached",
			noCreds: true,
			wantErr: core.ErrNotAuthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if !tt.noCreds {
				require.NoError(t, store.SetCredential(ctx, &oauth2.Token{
					AccessToken: "cached",
					Expiry:      time.Now().Add(time.Hour),
				}))
			}
			a := New(Config{}, store, nil)

			calls := 0
			a.SetProber(proberFunc(func(ctx context.Context) error {
				calls++
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline)
				return tt.probeErr
			}))

			err := a.Probe(ctx)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.probeErr != nil:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)

			ok, err := a.IsAuthenticated(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKept, ok)
		})
	}
}

func TestInvalidateOnlyClearsRejectedToken(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a := New(Config{}, store, nil)
	rejected := &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(time.Hour)}
	current := &oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.SetCredential(ctx, current))

	a.Invalidate(ctx, rejected, &googleapi.Error{Code: http.StatusUnauthorized})
	tok, err := a.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)

	a.Invalidate(ctx, current, &googleapi.Error{Code: http.StatusUnauthorized})
	ok, err := a.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetCredential(ctx, &oauth2.Token{AccessToken: "cached"}))
	a := New(Config{}, store, nil)

	require.NoError(t, a.SignOut(ctx))

	ok, err := a.IsAuthenticated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOAuthConfigFromClientID(t *testing.T) {
	cfg, err := OAuthConfig("", "id", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{Scope}, cfg.Scopes)
	assert.Equal(t, "id", cfg.ClientID)

	_, err = OAuthConfig("", "", "")
	assert.Error(t, err)
}
