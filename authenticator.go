package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Authenticator validates password credentials and exchanges provider
// artifacts for profiles.
type Authenticator struct {
	users        UserStore
	roles        RoleStore
	providers    *ProviderRegistry
	passwordCost int
	timeout      time.Duration
	logger       Logger
	compare      func(password, hash string) error
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users UserStore, providers *ProviderRegistry, cfg Config) *Authenticator {
	cost := DefaultPasswordCost
	if cfg != nil && cfg.GetPasswordCost() > 0 {
		cost = cfg.GetPasswordCost()
	}
	if providers == nil {
		providers = NewProviderRegistry()
	}
	return &Authenticator{
		users:        users,
		providers:    providers,
		passwordCost: cost,
		timeout:      10 * time.Second,
		logger:       defLogger{},
		compare:      ComparePasswordAndHash,
	}
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	a.logger = normalizeLogger(logger)
	return a
}

// WithRoles makes AuthenticateWithPassword load the user's roles
func (a *Authenticator) WithRoles(roles RoleStore) *Authenticator {
	a.roles = roles
	return a
}

// WithProviderTimeout bounds a single provider exchange
func (a *Authenticator) WithProviderTimeout(d time.Duration) *Authenticator {
	if d > 0 {
		a.timeout = d
	}
	return a
}

func (a *Authenticator) Providers() *ProviderRegistry {
	return a.providers
}

// AuthenticateWithPassword resolves identifier (username or email, case
// insensitive) and verifies password. Unknown identifiers and wrong
// passwords both return ErrInvalidCredentials after the same bcrypt work.
func (a *Authenticator) AuthenticateWithPassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		_ = a.compare(password, dummyHash(a.passwordCost))
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.GetByIdentifier(ctx, identifier)
	if err != nil && !isRecordNotFound(err) {
		a.logger.Error("password login lookup failed: %s", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up credentials")
	}

	hash := dummyHash(a.passwordCost)
	if user.HasPassword() {
		hash = user.PasswordHash
	}

	if err := a.compare(password, hash); err != nil || !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	if a.roles != nil {
		roles, err := a.roles.RolesForUser(ctx, user.ID)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load roles")
		}
		user.Roles = roles
	}

	return user, nil
}

// AuthenticateWithProvider exchanges the artifact with the named provider.
// Failures never panic or leak: they come back as ProviderResult.Err.
func (a *Authenticator) AuthenticateWithProvider(ctx context.Context, providerName, artifact string) ProviderResult {
	provider, err := a.providers.Get(providerName)
	if err != nil {
		return providerErr(providerName, "lookup", err)
	}

	if strings.TrimSpace(artifact) == "" {
		return providerErr(provider.Name(), "exchange", goerrors.New("missing authorization code", goerrors.CategoryBadInput))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	profile, err := provider.Exchange(ctx, artifact)
	if err != nil {
		a.logger.Error("provider %s exchange failed: %s", provider.Name(), err)
		return providerErr(provider.Name(), "exchange", err)
	}

	if profile == nil || strings.TrimSpace(profile.ProviderID) == "" {
		return providerErr(provider.Name(), "profile", goerrors.New("provider returned an empty profile", goerrors.CategoryInternal))
	}

	profile.Email = NormalizeIdentifier(profile.Email)
	return providerOK(provider.Name(), profile)
}

func isRecordNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) || IsNotFound(err)
}
