package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned for a provider name that is not configured
var ErrUnknownProvider = errors.New("unknown oauth provider")

// ErrExchangeFailed wraps failures talking to the provider
var ErrExchangeFailed = errors.New("oauth exchange failed")

// Provider drives the authorization code flow of one identity provider
type Provider interface {
	Name() string
	// AuthCodeURL returns the consent page URL carrying state
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for tokens and the account profile
	Exchange(ctx context.Context, code string) (domain.OAuthProfile, domain.OAuthTokens, error)
}

// Credentials are the client registration at a provider
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Option customises a provider, mostly for tests
type Option func(*oauth2Provider)

// WithEndpoint overrides the authorization and token URLs
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *oauth2Provider) { p.config.Endpoint = endpoint }
}

// WithAPIBaseURL overrides the base URL of the provider's user API
func WithAPIBaseURL(baseURL string) Option {
	return func(p *oauth2Provider) { p.apiBaseURL = baseURL }
}

// WithHTTPClient sets the client used for token exchange and profile fetches
func WithHTTPClient(client *http.Client) Option {
	return func(p *oauth2Provider) { p.httpClient = client }
}

// profileFetcher loads the account profile with an authorized client
type profileFetcher func(ctx context.Context, client *http.Client, baseURL string) (domain.OAuthProfile, error)

// oauth2Provider implements Provider on golang.org/x/oauth2
type oauth2Provider struct {
	name       string
	config     *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	fetch      profileFetcher
	authOpts   []oauth2.AuthCodeOption
}

func newProvider(name string, creds Credentials, endpoint oauth2.Endpoint, scopes []string, apiBaseURL string, fetch profileFetcher, opts ...Option) *oauth2Provider {
	p := &oauth2Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		fetch:      fetch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *oauth2Provider) Name() string {
	return p.name
}

func (p *oauth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, p.authOpts...)
}

func (p *oauth2Provider) Exchange(ctx context.Context, code string) (domain.OAuthProfile, domain.OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return domain.OAuthProfile{}, domain.OAuthTokens{}, fmt.Errorf("%w: %s token exchange: %w", ErrExchangeFailed, p.name, err)
	}

	profile, err := p.fetch(ctx, p.config.Client(ctx, token), p.apiBaseURL)
	if err != nil {
		return domain.OAuthProfile{}, domain.OAuthTokens{}, fmt.Errorf("%w: %s profile: %w", ErrExchangeFailed, p.name, err)
	}
	profile.Provider = p.name

	return profile, tokensFrom(token), nil
}

func tokensFrom(token *oauth2.Token) domain.OAuthTokens {
	tokens := domain.OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		tokens.ExpiresAt = &expiry
	}
	return tokens
}

// getJSON fetches url with an authorized client and decodes the body into out
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Registry resolves providers by name
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry of the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered provider names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
