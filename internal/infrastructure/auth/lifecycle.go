package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/config"
	"github.com/ledgersync/backend/internal/infrastructure/lock"
)

// defaultTokenLifetime applies when the token response carries no expires_in
const defaultTokenLifetime = 3600 * time.Second

// TokenLifecycle owns the OAuth credential of every scope.
// Acquire returns a token valid for at least the refresh margin and refreshes it otherwise.
// Credentials of one scope are read and written under that scope's lock, so
// concurrent callers of a scope share a refresh and other scopes never wait on it.
type TokenLifecycle struct {
	oauth      *oauth2.Config
	margin     time.Duration
	repo       integration.CredentialRepository
	states     *StateSigner
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger

	scopes *lock.MemoryKeyLocker

	mu          sync.Mutex
	invalidated map[string]bool
}

// LifecycleOption configures a TokenLifecycle
type LifecycleOption func(*TokenLifecycle)

// WithTokenHTTPClient sets the HTTP client used for token exchanges
func WithTokenHTTPClient(hc *http.Client) LifecycleOption {
	return func(l *TokenLifecycle) { l.httpClient = hc }
}

// WithLifecycleClock replaces time.Now
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *TokenLifecycle) {
		l.now = now
		l.states.now = now
	}
}

// NewTokenLifecycle creates a new token lifecycle
func NewTokenLifecycle(cfg config.OAuthConfig, repo integration.CredentialRepository, logger *zap.Logger, opts ...LifecycleOption) *TokenLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 60 * time.Second
	}
	l := &TokenLifecycle{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		margin:      margin,
		repo:        repo,
		states:      NewStateSigner(cfg.ClientSecret, cfg.StateTTL),
		now:         time.Now,
		logger:      logger.Named("oauth"),
		scopes:      lock.NewMemoryKeyLocker(),
		invalidated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire returns a usable access token for scope.
// Missing credentials and failed refreshes wrap integration.ErrAuthExpired.
func (l *TokenLifecycle) Acquire(ctx context.Context, scope string) (*integration.ApiToken, error) {
	unlock, err := l.lockScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := l.repo.Find(ctx, scope)
	if err != nil {
		if errors.Is(err, integration.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: no credential stored for scope %s", integration.ErrAuthExpired, scope)
		}
		return nil, err
	}

	if !l.isInvalidated(scope) && current.ValidFor(l.now(), l.margin) {
		return current, nil
	}
	if !current.CanRefresh() {
		return nil, fmt.Errorf("%w: scope %s has no refresh token", integration.ErrAuthExpired, scope)
	}

	refreshed, err := l.refresh(ctx, current)
	if err != nil {
		l.logger.Warn("Token refresh failed", zap.String("scope", scope), zap.Error(err))
		return nil, fmt.Errorf("%w: refresh failed: %v", integration.ErrAuthExpired, err)
	}
	if err := l.repo.Save(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	l.clearInvalidated(scope)

	l.logger.Info("Token refreshed",
		zap.String("scope", scope),
		zap.Time("expires_at", refreshed.ExpiresAt),
		zap.Bool("refresh_token_rotated", refreshed.RefreshToken != current.RefreshToken),
	)
	return refreshed, nil
}

// Invalidate forces the next Acquire of scope to refresh regardless of expiry
func (l *TokenLifecycle) Invalidate(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidated[scope] = true
}

func (l *TokenLifecycle) isInvalidated(scope string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invalidated[scope]
}

func (l *TokenLifecycle) clearInvalidated(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.invalidated, scope)
}

func (l *TokenLifecycle) lockScope(ctx context.Context, scope string) (func(), error) {
	unlock, err := l.scopes.Lock(ctx, "token:"+scope)
	if err != nil {
		return nil, fmt.Errorf("failed to lock credential of %s: %w", scope, err)
	}
	return unlock, nil
}

func (l *TokenLifecycle) refresh(ctx context.Context, current *integration.ApiToken) (*integration.ApiToken, error) {
	// an empty access token makes the source go straight to the refresh grant
	src := l.oauth.TokenSource(l.exchangeContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	next := l.fromOAuth(current.Scope, tok)
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

// ---------------------------------------------------------------------------
// Authorization code flow
// ---------------------------------------------------------------------------

// NewState issues a signed state token for scope
func (l *TokenLifecycle) NewState(scope string) (string, error) {
	return l.states.Issue(scope)
}

// VerifyState checks a callback state and returns the scope it was issued for
func (l *TokenLifecycle) VerifyState(state string) (string, error) {
	claims, err := l.states.Verify(state)
	if err != nil {
		return "", err
	}
	return claims.Scope, nil
}

// AuthorizationURL returns the consent URL carrying state
func (l *TokenLifecycle) AuthorizationURL(state string) string {
	return l.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a credential and persists it
func (l *TokenLifecycle) ExchangeCode(ctx context.Context, scope, code string) (*integration.ApiToken, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", integration.ErrValidation)
	}
	tok, err := l.oauth.Exchange(l.exchangeContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", integration.ErrAuthExpired, err)
	}

	unlock, err := l.lockScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	token := l.fromOAuth(scope, tok)
	if err := l.repo.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	l.clearInvalidated(scope)

	l.logger.Info("Credential stored", zap.String("scope", scope), zap.Time("expires_at", token.ExpiresAt))
	return token, nil
}

func (l *TokenLifecycle) fromOAuth(scope string, tok *oauth2.Token) *integration.ApiToken {
	now := l.now()
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultTokenLifetime)
	}
	return &integration.ApiToken{
		Scope:        scope,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}
}

func (l *TokenLifecycle) exchangeContext(ctx context.Context) context.Context {
	if l.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, l.httpClient)
}
