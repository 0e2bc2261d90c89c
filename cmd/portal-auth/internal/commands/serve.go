package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/adapters/metrics"
	"github.com/goliatone/go-portal-auth/middleware/csrf"
	"github.com/goliatone/go-portal-auth/middleware/honeypot"
	"github.com/goliatone/go-portal-auth/provider/github"
	"github.com/goliatone/go-portal-auth/provider/oidc"
	"github.com/goliatone/go-router"
	"golang.org/x/oauth2"
)

type ServeCmd struct {
	Listen  string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"PORTAL_LISTEN"`
	BaseURL string `help:"public base URL used in emailed links" default:"http://localhost:8080" env:"PORTAL_BASE_URL"`

	CSRFKey        string   `help:"secret used to sign CSRF tokens" env:"PORTAL_CSRF_KEY"`
	TrustedOrigins []string `help:"origins allowed to post cross origin" env:"PORTAL_TRUSTED_ORIGINS"`

	HoneypotField    string        `help:"name of the bot trap form field" default:"website" env:"PORTAL_HONEYPOT_FIELD"`
	HoneypotMinDelay time.Duration `help:"reject forms submitted faster than this" default:"0s" env:"PORTAL_HONEYPOT_MIN_DELAY"`

	AutoMigrate bool `help:"create the schema on startup" default:"false" env:"PORTAL_AUTO_MIGRATE"`
	Metrics     bool `help:"expose prometheus metrics on /metrics" default:"true" env:"PORTAL_METRICS"`

	GitHub GitHubFlags `embed:"" prefix:"github-"`
	OIDC   OIDCFlags   `embed:"" prefix:"oidc-"`
}

type GitHubFlags struct {
	ClientID     string `help:"GitHub client ID" env:"PORTAL_GITHUB_CLIENT_ID"`
	ClientSecret string `help:"GitHub client secret" env:"PORTAL_GITHUB_CLIENT_SECRET"`
	CallbackURL  string `help:"GitHub callback URL" env:"PORTAL_GITHUB_CALLBACK_URL"`
}

func (f GitHubFlags) Enabled() bool {
	return f.ClientID != "" && f.ClientSecret != ""
}

type OIDCFlags struct {
	Name         string `help:"provider name used in routes" default:"oidc" env:"PORTAL_OIDC_NAME"`
	Issuer       string `help:"issuer identifier" env:"PORTAL_OIDC_ISSUER"`
	ClientID     string `help:"client ID" env:"PORTAL_OIDC_CLIENT_ID"`
	ClientSecret string `help:"client secret" env:"PORTAL_OIDC_CLIENT_SECRET"`
	CallbackURL  string `help:"callback URL" env:"PORTAL_OIDC_CALLBACK_URL"`
	AuthURL      string `help:"authorization endpoint" env:"PORTAL_OIDC_AUTH_URL"`
	TokenURL     string `help:"token endpoint" env:"PORTAL_OIDC_TOKEN_URL"`
	JWKSURL      string `help:"JWKS endpoint" env:"PORTAL_OIDC_JWKS_URL"`
}

func (f OIDCFlags) Enabled() bool {
	return f.ClientID != "" && f.Issuer != ""
}

// Validate fills the well known endpoints from the issuer when they are
// not given explicitly.
func (f *OIDCFlags) Validate() error {
	if !f.Enabled() {
		return nil
	}
	issuer := strings.TrimRight(f.Issuer, "/")
	if f.AuthURL == "" {
		f.AuthURL = issuer + "/authorize"
	}
	if f.TokenURL == "" {
		f.TokenURL = issuer + "/oauth/token"
	}
	if f.JWKSURL == "" {
		f.JWKSURL = issuer + "/.well-known/jwks.json"
	}
	return nil
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	opts, err := globals.Options()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	logger, err := globals.Logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if s.AutoMigrate {
		if err := auth.CreateSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	repos := auth.NewRepositoryManager(db)
	repos.MustValidate()

	providers, closeProviders, err := s.providers()
	if err != nil {
		return err
	}
	defer closeProviders()

	csrfKey := s.CSRFKey
	if csrfKey == "" {
		csrfKey = opts.SigningKey
	}
	protector, err := csrf.New(csrf.Config{
		SecureKey:      []byte(csrfKey),
		CookieSecure:   opts.SecureCookies,
		TrustedOrigins: s.TrustedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to configure csrf: %w", err)
	}

	collector := metrics.New()
	trap := honeypot.New(s.HoneypotField).WithMinDelay(s.HoneypotMinDelay)

	svc := auth.NewService(repos, providers, opts).
		WithLogger(logger).
		WithCSRF(protector).
		WithHoneypot(trap).
		WithMailer(logMailer(logger)).
		WithAuditSinks(collector).
		WithPasswordResetURL(func(id string) string {
			return strings.TrimRight(s.BaseURL, "/") + "/password/reset?verification=" + url.QueryEscape(id)
		})

	auther := auth.NewHTTPAuthenticator(svc).WithLogger(logger)
	controller := auth.NewAuthController(svc, auther,
		auth.WithControllerLogger(logger),
	)
	controller.Debug = globals.Debug

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{
			AppName:               "portal-auth " + globals.Version,
			DisableStartupMessage: true,
			ReadTimeout:           30 * time.Second,
			WriteTimeout:          30 * time.Second,
			IdleTimeout:           2 * time.Minute,
		})
		return app
	})

	if s.Metrics {
		app.Use(collector.Middleware())
		app.Get("/metrics", collector.Handler())
	}
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("db unavailable")
		}
		return c.SendString("ok")
	})

	app.Use(protector.Middleware())
	csrf.RegisterRoutes(srv.Router(), csrf.RouteConfig{Trap: trap})
	auth.RegisterAuthRoutes(app, controller)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s with providers %v", s.Listen, providers.Names())
		errCh <- app.Listen(s.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func (s *ServeCmd) providers() (*auth.ProviderRegistry, func(), error) {
	registry := auth.NewProviderRegistry()
	closers := []func(){}
	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if s.GitHub.Enabled() {
		registry.Register(github.New(github.Config{
			ClientID:     s.GitHub.ClientID,
			ClientSecret: s.GitHub.ClientSecret,
			CallbackURL:  s.GitHub.CallbackURL,
		}))
	}

	if err := s.OIDC.Validate(); err != nil {
		return nil, closeAll, err
	}
	if s.OIDC.Enabled() {
		p, err := oidc.New(oidc.Config{
			Name:         s.OIDC.Name,
			Issuer:       s.OIDC.Issuer,
			ClientID:     s.OIDC.ClientID,
			ClientSecret: s.OIDC.ClientSecret,
			CallbackURL:  s.OIDC.CallbackURL,
			JWKSURL:      s.OIDC.JWKSURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  s.OIDC.AuthURL,
				TokenURL: s.OIDC.TokenURL,
			},
		})
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, p.Close)
		registry.Register(p)
	}

	return registry, closeAll, nil
}

// logMailer stands in for a real transport: it writes outgoing email to
// the log so reset links are reachable in development.
func logMailer(logger auth.Logger) auth.Mailer {
	return auth.MailerFunc(func(_ context.Context, msg auth.MailMessage) error {
		logger.Info("email to=%s subject=%q body=%q", msg.To, msg.Subject, msg.Text)
		return nil
	})
}
