package cloudauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"expensia/internal/core"
)

// IsAuthenticated reports whether a credential is cached. It does no network
// work; use Probe or Credential to check the token is still usable.
func (a *Authenticator) IsAuthenticated(ctx context.Context) (bool, error) {
	tok, err := a.store.Credential(ctx)
	if err != nil {
		return false, err
	}
	return tok != nil, nil
}

// Credential returns a usable token, refreshing it when it has expired and a
// refresh token is available. An expired token that cannot be refreshed is
// cleared and core.ErrNotAuthenticated returned.
func (a *Authenticator) Credential(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.store.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if tok == nil {
		return nil, core.ErrNotAuthenticated
	}
	if tok.Valid() {
		return tok, nil
	}

	if tok.RefreshToken == "" || a.cfg.OAuth == nil {
		slog.InfoContext(ctx, "Cached credential expired, clearing it", "expiry", tok.Expiry)
		if err := a.store.ClearCredential(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to clear expired credential", "error", err)
		}
		return nil, core.ErrNotAuthenticated
	}

	fresh, err := a.cfg.OAuth.TokenSource(ctx, tok).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			slog.WarnContext(ctx, "Refresh token rejected, clearing credential", "error", err)
			if cerr := a.store.ClearCredential(ctx); cerr != nil {
				slog.WarnContext(ctx, "Failed to clear credential", "error", cerr)
			}
			return nil, fmt.Errorf("%w: %v", core.ErrNotAuthenticated, err)
		}
		return nil, fmt.Errorf("refresh credential: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := a.store.SetCredential(ctx, fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	slog.DebugContext(ctx, "Credential refreshed", "expiry", fresh.Expiry)
	return fresh, nil
}

// Token implements oauth2.TokenSource for HTTP transports.
func (a *Authenticator) Token() (*oauth2.Token, error) {
	return a.Credential(context.Background())
}

// Probe issues a lightweight authorized request. A rejected request clears
// the cached credential; a request that never got a response leaves it alone.
func (a *Authenticator) Probe(ctx context.Context) error {
	tok, err := a.Credential(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	p := a.prober
	a.mu.Unlock()
	if p == nil {
		return errors.New("no remote configured for credential probe")
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	err = p.Probe(ctx)
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		a.Invalidate(ctx, tok, err)
		return fmt.Errorf("%w: %v", core.ErrNotAuthenticated, err)
	}
	return fmt.Errorf("probe credential: %w", err)
}

// Invalidate clears the cached credential if it is still the rejected token.
// A credential cached since then, by a new sign-in or a refresh, is kept.
func (a *Authenticator) Invalidate(ctx context.Context, rejected *oauth2.Token, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.store.Credential(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read credential", "error", err)
		return
	}
	if cur == nil || rejected == nil || cur.AccessToken != rejected.AccessToken {
		slog.DebugContext(ctx, "Rejected credential already replaced", "error", cause)
		return
	}

	slog.WarnContext(ctx, "Clearing rejected cloud credential", "error", cause)
	if err := a.store.ClearCredential(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to clear credential", "error", err)
	}
}

// SignOut forgets the cached credential.
func (a *Authenticator) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.ClearCredential(ctx)
}
