// Package spotify is the music catalog client: OAuth authorization, playlist track listing
// and audio features lookup.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrUnauthorized is returned while no token has been obtained yet.
	ErrUnauthorized = errors.New("catalog authorization has not completed")
	// ErrStateMismatch is returned when a callback carries an unknown OAuth state.
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// Auth holds the catalog token. It supports the authorization code flow driven
// by a browser callback and the client credentials flow for unattended use.
type Auth struct {
	oauth       *oauth2.Config
	credentials *clientcredentials.Config
	// carries the HTTP client used for token requests
	ctx context.Context

	mu     sync.Mutex
	token  *oauth2.Token
	source oauth2.TokenSource
	state  string
}

// NewAuth creates an authorizer; client may be nil.
func NewAuth(cfg Config, client *http.Client) *Auth {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	a := &Auth{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, client),
	}
	if cfg.ClientCredentials {
		a.credentials = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
	}
	return a
}

// AuthCodeURL returns the page the user has to visit to grant access. Every call issues a new state.
func (a *Auth) AuthCodeURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = uuid.NewString()
	return a.oauth.AuthCodeURL(a.state)
}

// Exchange trades the code of an authorization callback for a token.
// Once AuthCodeURL has issued a state the callback must echo it.
func (a *Auth) Exchange(ctx context.Context, state, code string) error {
	a.mu.Lock()
	expected := a.state
	a.mu.Unlock()
	if expected != "" && state != expected {
		return ErrStateMismatch
	}

	tok, err := a.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, a.ctx.Value(oauth2.HTTPClient)), code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = tok
	a.source = nil
	a.state = ""
	return nil
}

// Token returns a valid token, refreshing it when it has expired.
func (a *Auth) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		switch {
		case a.credentials != nil:
			a.source = a.credentials.TokenSource(a.ctx)
		case a.token != nil:
			a.source = a.oauth.TokenSource(a.ctx, a.token)
		default:
			return nil, ErrUnauthorized
		}
	}

	tok, err := a.source.Token()
	if err != nil {
		return nil, fmt.Errorf("catalog token: %w", err)
	}
	a.token = tok
	return tok, nil
}

// Invalidate marks the current access token as expired so that the next Token call refreshes it.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil {
		expired := *a.token
		expired.Expiry = time.Now().Add(-time.Minute)
		a.token = &expired
	}
	a.source = nil
}

// Authorized reports whether a token can be produced without user interaction.
func (a *Auth) Authorized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.credentials != nil || a.token != nil
}
