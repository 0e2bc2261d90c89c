package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Outcome is what a flow hands back to the transport: where to go next,
// what to tell the user and which session cookie to set or clear.
type Outcome struct {
	Toast        *Toast
	RedirectTo   string
	Session      *IssuedSession
	ClearSession bool
	FieldErrors  map[string]string
}

// Service wires the subsystem together and exposes the flows used by
// route handlers.
type Service struct {
	cfg           Config
	repos         Repositories
	Authenticator *Authenticator
	Sessions      *SessionManager
	Linker        *Linker
	Authorizer    *Authorizer
	Audit         *AuditLog
	Verifications *Verifications
	csrf          CSRFValidator
	honeypot      HoneypotValidator
	notifier      *Notifier
	resetURL      func(verificationID string) string
	logger        Logger
	unprotected   sync.Once
}

func NewService(repos Repositories, providers *ProviderRegistry, cfg Config) *Service {
	audit := NewAuditLog(repos.Audit())
	sessions := NewSessionManager(repos, cfg)
	verifications := NewVerifications(repos.Verifications(), cfg)

	s := &Service{
		cfg:           cfg,
		repos:         repos,
		Authenticator: NewAuthenticator(repos.Users(), providers, cfg).WithRoles(repos.Roles()),
		Sessions:      sessions,
		Linker:        NewLinker(repos, sessions, verifications, audit, cfg),
		Authorizer:    NewAuthorizer(sessions),
		Audit:         audit,
		Verifications: verifications,
		csrf:          noopCSRF{},
		honeypot:      noopHoneypot{},
		logger:        defLogger{},
	}
	s.resetURL = func(id string) string {
		return "/password/reset?verification=" + url.QueryEscape(id)
	}
	return s
}

func (s *Service) WithLogger(logger Logger) *Service {
	s.logger = normalizeLogger(logger)
	s.Authenticator.WithLogger(s.logger)
	s.Sessions.WithLogger(s.logger)
	s.Linker.WithLogger(s.logger)
	s.Audit.WithLogger(s.logger)
	if s.notifier != nil {
		s.notifier.WithLogger(s.logger)
	}
	return s
}

func (s *Service) WithCSRF(v CSRFValidator) *Service {
	if v != nil {
		s.csrf = v
	}
	return s
}

func (s *Service) WithHoneypot(v HoneypotValidator) *Service {
	if v != nil {
		s.honeypot = v
	}
	return s
}

func (s *Service) WithMailer(m Mailer) *Service {
	s.notifier = NewNotifier(m).WithLogger(s.logger)
	return s
}

func (s *Service) WithAuditSinks(sinks ...AuditSink) *Service {
	s.Audit.WithSinks(sinks...)
	return s
}

// WithPasswordResetURL sets how reset links are built for emails
func (s *Service) WithPasswordResetURL(fn func(verificationID string) string) *Service {
	if fn != nil {
		s.resetURL = fn
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// checkSubmission runs the CSRF and bot trap validators, in that order.
func (s *Service) checkSubmission(rc RequestContext) error {
	s.unprotected.Do(s.reportUnprotected)

	if err := s.csrf.Validate(rc); err != nil {
		s.logger.Info("csrf rejected %s %s: %s", rc.Method, rc.Path, err)
		return ErrCsrfMismatch
	}
	if err := s.honeypot.Check(rc.Form); err != nil {
		s.logger.Info("honeypot rejected %s %s: %s", rc.Method, rc.Path, err)
		return ErrBotSuspected
	}
	return nil
}

// reportUnprotected logs the validators left at their noop defaults
func (s *Service) reportUnprotected() {
	if _, ok := s.csrf.(noopCSRF); ok {
		s.logger.Error("no CSRF validator configured, form submissions are not checked; use WithCSRF")
	}
	if _, ok := s.honeypot.(noopHoneypot); ok {
		s.logger.Info("no honeypot validator configured; use WithHoneypot")
	}
}

func (s *Service) genericFailure(redirectTo string) *Outcome {
	return &Outcome{
		Toast:      errorToast("Something went wrong", "Please try again."),
		RedirectTo: redirectTo,
	}
}

// Login authenticates a password credential and starts a session
func (s *Service) Login(ctx context.Context, rc RequestContext, payload LoginPayload) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return &Outcome{FieldErrors: FieldErrors(err)}, nil
	}

	user, err := s.Authenticator.AuthenticateWithPassword(ctx, payload.Identifier, payload.Password)
	if err != nil {
		if !IsInvalidCredentials(err) {
			s.logger.Error("login failed: %s", err)
			return s.genericFailure(s.cfg.GetLoginRoute()), nil
		}

		if aerr := s.Audit.Record(ctx, uuid.Nil, AuditLoginFailure, EntitySession, map[string]any{
			"identifier": NormalizeIdentifier(payload.Identifier),
			"ip":         rc.IP,
		}); aerr != nil {
			return nil, aerr
		}

		return &Outcome{
			FieldErrors: map[string]string{"form": "Invalid username or password"},
		}, nil
	}

	return s.HandleNewSession(ctx, rc, user.ID, payload.Remember, payload.RedirectTo)
}

// HandleNewSession issues a session for userID and records the login as
// one unit.
func (s *Service) HandleNewSession(ctx context.Context, rc RequestContext, userID uuid.UUID, remember bool, redirectTo string) (*Outcome, error) {
	var session *IssuedSession

	err := s.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		session, err = s.Sessions.Tx(tx).IssueSession(ctx, userID, remember, WithClient(rc.IP, rc.UserAgent))
		if err != nil {
			return err
		}
		return s.Audit.Tx(tx.Audit()).Record(ctx, userID, AuditLoginSuccess, EntitySession, map[string]any{
			"remember": remember,
			"ip":       rc.IP,
		})
	})
	if err != nil {
		if IsAuditWriteFailure(err) {
			return nil, err
		}
		s.logger.Error("failed to start session for %s: %s", userID, err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	return &Outcome{
		Session:    session,
		RedirectTo: s.safeRedirect(redirectTo),
	}, nil
}

// HandleProviderCallback exchanges the artifact, runs the account linker
// and maps its outcome to a redirect and toast.
func (s *Service) HandleProviderCallback(ctx context.Context, rc RequestContext, providerName, artifact string, remember bool) (*Outcome, error) {
	result := s.Authenticator.AuthenticateWithProvider(ctx, providerName, artifact)
	if !result.OK() {
		s.logger.Error("provider callback failed: %s", result.Err)
		return &Outcome{
			Toast:      errorToast("Authentication failed", result.Err.Public()),
			RedirectTo: s.cfg.GetLoginRoute(),
		}, nil
	}

	sessionUserID, _ := s.Sessions.ResolvePrincipal(ctx, rc.SessionToken)

	link, err := s.Linker.Link(ctx, LinkRequest{
		Provider:      result.Provider,
		Profile:       *result.Profile,
		SessionUserID: sessionUserID,
		Remember:      remember,
		IP:            rc.IP,
		UserAgent:     rc.UserAgent,
	})
	if err != nil {
		s.logger.Error("account linking failed for %s: %s", result.Provider, err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	label := providerLabel(result.Provider)

	switch link.Outcome {
	case LinkAlreadyLinkedSelf:
		return &Outcome{
			Toast:      successToast("Already connected", fmt.Sprintf("Your %q account is already connected.", label)),
			RedirectTo: s.cfg.GetConnectionsRoute(),
		}, nil
	case LinkAlreadyLinkedOther:
		return &Outcome{
			Toast:      successToast("Already connected", fmt.Sprintf("Your %q account is already connected to another account.", label)),
			RedirectTo: s.cfg.GetConnectionsRoute(),
		}, nil
	case LinkLinked:
		return &Outcome{
			Toast:      successToast("Connected", fmt.Sprintf("Your %q account has been connected.", label)),
			RedirectTo: s.cfg.GetConnectionsRoute(),
		}, nil
	case LinkResumed:
		return &Outcome{
			Session:    link.Session,
			RedirectTo: s.cfg.GetHomeRoute(),
		}, nil
	case LinkMatchedByEmail:
		return &Outcome{
			Session:    link.Session,
			Toast:      successToast("Connected", fmt.Sprintf("Your %q account has been connected to your existing account.", label)),
			RedirectTo: s.cfg.GetHomeRoute(),
		}, nil
	case LinkNeedsOnboarding:
		return &Outcome{
			RedirectTo: s.OnboardingURL(result.Provider, link.Verification.ID),
		}, nil
	}

	return s.genericFailure(s.cfg.GetLoginRoute()), nil
}

// OnboardingURL is the route the NeedsOnboarding outcome redirects to
func (s *Service) OnboardingURL(provider, verificationID string) string {
	return fmt.Sprintf("%s/%s?verification=%s",
		strings.TrimRight(s.cfg.GetOnboardingRoute(), "/"),
		url.PathEscape(provider),
		url.QueryEscape(verificationID),
	)
}

// OnboardingPrefill returns the stashed provider profile for the form
func (s *Service) OnboardingPrefill(ctx context.Context, verificationID string) (*Verification, error) {
	return s.Verifications.Peek(ctx, verificationID, PurposeOnboarding)
}

// CompleteOnboarding creates the account for a NeedsOnboarding handoff
func (s *Service) CompleteOnboarding(ctx context.Context, rc RequestContext, payload OnboardingPayload) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return &Outcome{FieldErrors: FieldErrors(err)}, nil
	}

	if _, err := s.repos.Users().GetByUsername(ctx, payload.Username); err == nil {
		return &Outcome{FieldErrors: map[string]string{"username": "A user already exists with this username"}}, nil
	} else if !isRecordNotFound(err) {
		s.logger.Error("onboarding username lookup failed: %s", err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	res, err := s.Linker.CompleteOnboarding(ctx, OnboardingRequest{
		VerificationID: payload.VerificationID,
		Username:       payload.Username,
		Name:           payload.Name,
		Password:       payload.Password,
		Remember:       payload.Remember,
		IP:             rc.IP,
		UserAgent:      rc.UserAgent,
	}, s.cfg.GetPasswordCost())

	switch {
	case err == nil:
	case HasTextCode(err, TextCodeVerificationNotFound):
		return &Outcome{
			Toast:      errorToast("Onboarding expired", "Please sign in with your provider again."),
			RedirectTo: s.cfg.GetLoginRoute(),
		}, nil
	case IsStorageConflict(err):
		return &Outcome{FieldErrors: map[string]string{"username": "An account with this username or email already exists"}}, nil
	case IsAuditWriteFailure(err):
		return nil, err
	default:
		s.logger.Error("onboarding failed: %s", err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	return &Outcome{
		Session:    res.Session,
		Toast:      successToast("Welcome aboard", fmt.Sprintf("Your account %q has been created.", res.User.Username)),
		RedirectTo: s.cfg.GetHomeRoute(),
	}, nil
}

// Logout destroys the current session. Logging out without a session is
// not an error.
func (s *Service) Logout(ctx context.Context, rc RequestContext) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	outcome := &Outcome{ClearSession: true, RedirectTo: s.cfg.GetHomeRoute()}

	userID, ok := s.Sessions.ResolvePrincipal(ctx, rc.SessionToken)
	if !ok {
		if err := s.Sessions.DestroySession(ctx, rc.SessionToken); err != nil {
			s.logger.Error("logout cleanup failed: %s", err)
		}
		return outcome, nil
	}

	err := s.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		if err := s.Sessions.Tx(tx).DestroySession(ctx, rc.SessionToken); err != nil {
			return err
		}
		return s.Audit.Tx(tx.Audit()).Record(ctx, userID, AuditLogout, EntitySession, nil)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// RequestPasswordReset emails a reset link when the address belongs to a
// password account. The outcome is the same whether it does or not.
func (s *Service) RequestPasswordReset(ctx context.Context, rc RequestContext, payload PasswordResetRequestPayload) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return &Outcome{FieldErrors: FieldErrors(err)}, nil
	}

	outcome := &Outcome{
		Toast:      successToast("Check your email", "If an account exists for that address we sent a reset link."),
		RedirectTo: s.cfg.GetLoginRoute(),
	}

	user, err := s.repos.Users().GetByEmail(ctx, payload.Email)
	if err != nil {
		if !isRecordNotFound(err) {
			s.logger.Error("password reset lookup failed: %s", err)
		}
		return outcome, nil
	}

	var v *Verification
	err = s.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		v, err = s.Verifications.Tx(tx.Verifications()).Create(ctx, PurposePasswordReset, VerificationData{
			Email:  user.Email,
			UserID: user.ID.String(),
		})
		if err != nil {
			return err
		}
		return s.Audit.Tx(tx.Audit()).Record(ctx, user.ID, AuditPasswordResetRequest, EntityUser, map[string]any{
			"ip": rc.IP,
		})
	})
	if err != nil {
		if IsAuditWriteFailure(err) {
			return nil, err
		}
		s.logger.Error("password reset request failed: %s", err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	link := s.resetURL(v.ID)
	s.notifier.Notify(ctx, MailMessage{
		To:      user.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Use this link within %s to choose a new password: %s", s.Verifications.TTL(), link),
		HTML:    fmt.Sprintf(`<p>Use <a href="%s">this link</a> within %s to choose a new password.</p>`, link, s.Verifications.TTL()),
	})

	return outcome, nil
}

// ResetPassword consumes a reset verification, stores the new password and
// signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, rc RequestContext, payload PasswordResetPayload) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	if err := payload.Validate(); err != nil {
		return &Outcome{FieldErrors: FieldErrors(err)}, nil
	}

	hash, err := HashPasswordWithCost(payload.Password, s.cfg.GetPasswordCost())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = s.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		v, err := s.Verifications.Tx(tx.Verifications()).Consume(ctx, payload.VerificationID, PurposePasswordReset)
		if err != nil {
			return err
		}

		userID, err := uuid.Parse(v.Data.UserID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "password reset is not associated with a user")
		}

		if err := tx.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
			return err
		}

		revoked, err := s.Sessions.Tx(tx).DestroyUserSessions(ctx, userID)
		if err != nil {
			return err
		}

		return s.Audit.Tx(tx.Audit()).Record(ctx, userID, AuditPasswordResetComplete, EntityUser, map[string]any{
			"revoked_sessions": revoked,
			"ip":               rc.IP,
		})
	})

	switch {
	case err == nil:
	case HasTextCode(err, TextCodeVerificationNotFound):
		return &Outcome{
			Toast:      errorToast("Reset link expired", "Please request a new password reset link."),
			RedirectTo: "/password/forgot",
		}, nil
	case IsAuditWriteFailure(err):
		return nil, err
	default:
		s.logger.Error("password reset failed: %s", err)
		return s.genericFailure(s.cfg.GetLoginRoute()), nil
	}

	return &Outcome{
		Toast:        successToast("Password updated", "You can now sign in with your new password."),
		RedirectTo:   s.cfg.GetLoginRoute(),
		ClearSession: true,
	}, nil
}

// ApproveProfile is an admin action that only records the approval in the
// audit log and emails the user. Users carry no approval state, so nothing
// else changes and access is unaffected.
func (s *Service) ApproveProfile(ctx context.Context, rc RequestContext, userID uuid.UUID) (*Outcome, error) {
	if err := s.checkSubmission(rc); err != nil {
		return nil, err
	}

	admin, err := s.Authorizer.RequireUserWithRole(ctx, rc, RoleAdmin)
	if err != nil {
		return nil, err
	}

	target, err := s.repos.Users().GetByID(ctx, userID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrNotFound.Clone().WithMetadata(map[string]any{"user_id": userID.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if err := s.Audit.Record(ctx, admin.ID, AuditProfileApproved, EntityUser, map[string]any{
		"user_id": target.ID.String(),
	}); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, MailMessage{
		To:      target.Email,
		Subject: "Your profile has been approved",
		Text:    fmt.Sprintf("Hi %s, your profile has been approved.", target.Username),
	})

	return &Outcome{
		Toast: successToast("Profile approved", fmt.Sprintf("%s has been notified.", target.Username)),
	}, nil
}

// safeRedirect only allows local paths
func (s *Service) safeRedirect(to string) string {
	if to == "" || !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.HasPrefix(to, "/\\") {
		return s.cfg.GetHomeRoute()
	}
	return to
}

func providerLabel(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
