package auth

import (
	"os"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

var _ Config = Options{}

// Options is the default Config implementation. It can be loaded from a
// yaml file and overridden by the CLI flags.
type Options struct {
	SigningKey         string        `yaml:"signing_key"`
	Issuer             string        `yaml:"issuer"`
	SessionCookieName  string        `yaml:"session_cookie_name"`
	SessionDuration    time.Duration `yaml:"session_duration"`
	RememberDuration   time.Duration `yaml:"remember_duration"`
	VerificationTTL    time.Duration `yaml:"verification_ttl"`
	LoginRoute         string        `yaml:"login_route"`
	HomeRoute          string        `yaml:"home_route"`
	OnboardingRoute    string        `yaml:"onboarding_route"`
	ConnectionsRoute   string        `yaml:"connections_route"`
	TrustProviderEmail bool          `yaml:"trust_provider_email"`
	PasswordCost       int           `yaml:"password_cost"`
	SecureCookies      bool          `yaml:"secure_cookies"`
}

// DefaultOptions returns sane defaults, the signing key must still be set
func DefaultOptions() Options {
	return Options{
		Issuer:             "portal",
		SessionCookieName:  "portal_session",
		SessionDuration:    12 * time.Hour,
		RememberDuration:   30 * 24 * time.Hour,
		VerificationTTL:    15 * time.Minute,
		LoginRoute:         "/login",
		HomeRoute:          "/",
		OnboardingRoute:    "/onboarding",
		ConnectionsRoute:   "/settings/profile/connections",
		TrustProviderEmail: true,
		PasswordCost:       DefaultPasswordCost,
		SecureCookies:      true,
	}
}

// LoadOptions reads a yaml file on top of DefaultOptions
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config").
			WithMetadata(map[string]any{"path": path})
	}

	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return opts, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse config").
			WithMetadata(map[string]any{"path": path})
	}

	return opts, nil
}

// Validate checks the options that have no usable default
func (o Options) Validate() error {
	if len(o.SigningKey) < 32 {
		return goerrors.New("signing key must be at least 32 bytes", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"field": "signing_key"})
	}
	return nil
}

func (o Options) GetSigningKey() string              { return o.SigningKey }
func (o Options) GetIssuer() string                  { return o.Issuer }
func (o Options) GetSessionCookieName() string       { return o.SessionCookieName }
func (o Options) GetSessionDuration() time.Duration  { return o.SessionDuration }
func (o Options) GetRememberDuration() time.Duration { return o.RememberDuration }
func (o Options) GetVerificationTTL() time.Duration  { return o.VerificationTTL }
func (o Options) GetLoginRoute() string              { return o.LoginRoute }
func (o Options) GetHomeRoute() string               { return o.HomeRoute }
func (o Options) GetOnboardingRoute() string         { return o.OnboardingRoute }
func (o Options) GetConnectionsRoute() string        { return o.ConnectionsRoute }
func (o Options) GetTrustProviderEmail() bool        { return o.TrustProviderEmail }
func (o Options) GetPasswordCost() int               { return o.PasswordCost }
func (o Options) GetSecureCookies() bool             { return o.SecureCookies }
