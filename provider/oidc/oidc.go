package oidc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-portal-auth"
	"golang.org/x/oauth2"
)

var ErrMissingIDToken = errors.New("token response has no id_token")

// Config holds the settings of an OpenID Connect provider
type Config struct {
	// Name is the registry key, e.g. "google" or "okta"
	Name         string
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	Issuer   string
	Endpoint oauth2.Endpoint
	JWKSURL  string

	// Keyfunc overrides the JWKS lookup
	Keyfunc jwt.Keyfunc

	HTTPClient *http.Client
}

// DefaultScopes returns the default OpenID Connect scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements auth.IdentityProvider by verifying the id_token of
// the authorization code response against the provider JWKS.
type Provider struct {
	name       string
	issuer     string
	clientID   string
	oauth      *oauth2.Config
	keyfunc    jwt.Keyfunc
	jwks       *keyfunc.JWKS
	httpClient *http.Client
	now        func() time.Time
}

var _ auth.IdentityProvider = (*Provider)(nil)

// IDTokenClaims are the standard claims we read from the id_token
type IDTokenClaims struct {
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	Nickname          string `json:"nickname"`
	Name              string `json:"name"`
	jwt.RegisteredClaims
}

// New builds the provider and loads the JWKS unless a Keyfunc is given
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("oidc provider requires a name")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oidc provider %s requires a client id", cfg.Name)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &Provider{
		name:     strings.ToLower(cfg.Name),
		issuer:   cfg.Issuer,
		clientID: cfg.ClientID,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		keyfunc:    cfg.Keyfunc,
		httpClient: client,
		now:        time.Now,
	}

	if p.keyfunc == nil {
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("oidc provider %s requires a JWKS url", cfg.Name)
		}

		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Client: client,
			RefreshErrorHandler: func(err error) {
				log.Printf("oidc %s: failed to do a background refresh of JWKS: %s", cfg.Name, err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc provider %s: failed to load JWKS: %w", cfg.Name, err)
		}
		p.jwks = jwks
		p.keyfunc = jwks.Keyfunc
	}

	return p, nil
}

func (p *Provider) WithClock(now func() time.Time) *Provider {
	if now != nil {
		p.now = now
	}
	return p
}

// Close stops the background JWKS refresh
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *Provider) Exchange(ctx context.Context, code string) (*auth.Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, auth.NewProviderError(p.name, "exchange", err)
	}

	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, auth.NewProviderError(p.name, "exchange", ErrMissingIDToken)
	}

	claims, err := p.VerifyIDToken(raw)
	if err != nil {
		return nil, auth.NewProviderError(p.name, "verify_id_token", err)
	}

	return claimsProfile(claims), nil
}

// VerifyIDToken checks signature, issuer, audience and expiry of an id_token
func (p *Provider) VerifyIDToken(raw string) (*IDTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}),
		jwt.WithAudience(p.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &IDTokenClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, p.keyfunc, opts...); err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, errors.New("id_token has no subject")
	}
	return claims, nil
}

func claimsProfile(c *IDTokenClaims) *auth.Profile {
	username := c.PreferredUsername
	if username == "" {
		username = c.Nickname
	}
	if username == "" && c.Email != "" {
		username, _, _ = strings.Cut(c.Email, "@")
	}

	return &auth.Profile{
		ProviderID:    c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Username:      username,
		Name:          c.Name,
	}
}
