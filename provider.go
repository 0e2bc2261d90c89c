package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Profile is the normalized identity returned by a provider exchange
type Profile struct {
	ProviderID    string `json:"provider_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Username      string `json:"username"`
	Name          string `json:"name"`
}

// IdentityProvider exchanges an authorization artifact for a Profile.
type IdentityProvider interface {
	// Name is the registry key, e.g. "github".
	Name() string
	// AuthCodeURL is where the user is sent to authorize, state is echoed back.
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, artifact string) (*Profile, error)
}

// ProviderError wraps any transport or provider side failure. Its Error
// string carries details for logs, Public is safe to show to users.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("provider %s: %s failed", e.Provider, e.Operation)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Public is the generic message shown to the end user
func (e *ProviderError) Public() string {
	return "Authentication failed, please try again."
}

// NewProviderError builds a ProviderError, reusing err if it already is one
func NewProviderError(provider, operation string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr
	}
	return &ProviderError{Provider: provider, Operation: operation, Err: err}
}

// ProviderResult is the outcome of a provider exchange: exactly one of
// Profile or Err is set.
type ProviderResult struct {
	Provider string
	Profile  *Profile
	Err      *ProviderError
}

func (r ProviderResult) OK() bool {
	return r.Err == nil && r.Profile != nil
}

func providerOK(name string, p *Profile) ProviderResult {
	return ProviderResult{Provider: name, Profile: p}
}

func providerErr(name, op string, err error) ProviderResult {
	return ProviderResult{Provider: name, Err: NewProviderError(name, op, err)}
}

// ProviderRegistry holds identity providers keyed by name. It is filled at
// startup and only read afterwards.
type ProviderRegistry struct {
	providers map[string]IdentityProvider
}

func NewProviderRegistry(providers ...IdentityProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]IdentityProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider
func (r *ProviderRegistry) Register(p IdentityProvider) *ProviderRegistry {
	if p == nil {
		return r
	}
	r.providers[strings.ToLower(p.Name())] = p
	return r
}

func (r *ProviderRegistry) Get(name string) (IdentityProvider, error) {
	if r != nil {
		if p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]; ok {
			return p, nil
		}
	}
	return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": name})
}

func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
