package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// LinkOutcome tags the rule that resolved a provider callback
type LinkOutcome string

const (
	LinkAlreadyLinkedSelf  LinkOutcome = "already_linked_self"
	LinkAlreadyLinkedOther LinkOutcome = "already_linked_other"
	LinkLinked             LinkOutcome = "linked"
	LinkResumed            LinkOutcome = "resumed"
	LinkMatchedByEmail     LinkOutcome = "matched_by_email"
	LinkNeedsOnboarding    LinkOutcome = "needs_onboarding"
)

// LinkRequest is a provider callback to reconcile with local accounts.
// SessionUserID is uuid.Nil for anonymous callbacks.
type LinkRequest struct {
	Provider      string
	Profile       Profile
	SessionUserID uuid.UUID
	Remember      bool
	IP            string
	UserAgent     string
}

// LinkResult describes what the linker did. Session is set only for
// outcomes that log the user in, Verification only for onboarding.
type LinkResult struct {
	Outcome           LinkOutcome
	UserID            uuid.UUID
	Connection        *Connection
	Session           *IssuedSession
	Verification      *Verification
	SuggestedUsername string
}

type linkFacts struct {
	req      LinkRequest
	existing *Connection
	byEmail  *User
}

func (f *linkFacts) hasSession() bool {
	return f.req.SessionUserID != uuid.Nil
}

type linkRule struct {
	outcome LinkOutcome
	when    func(l *Linker, ctx context.Context, f *linkFacts) (bool, error)
	apply   func(l *Linker, ctx context.Context, f *linkFacts) (*LinkResult, error)
}

// linkRules are evaluated in order, the first match wins.
var linkRules = []linkRule{
	{
		outcome: LinkAlreadyLinkedSelf,
		when: func(_ *Linker, _ context.Context, f *linkFacts) (bool, error) {
			return f.existing != nil && f.hasSession() && f.existing.UserID == f.req.SessionUserID, nil
		},
		apply: func(_ *Linker, _ context.Context, f *linkFacts) (*LinkResult, error) {
			return &LinkResult{Outcome: LinkAlreadyLinkedSelf, UserID: f.existing.UserID, Connection: f.existing}, nil
		},
	},
	{
		outcome: LinkAlreadyLinkedOther,
		when: func(_ *Linker, _ context.Context, f *linkFacts) (bool, error) {
			return f.existing != nil && f.hasSession(), nil
		},
		apply: func(_ *Linker, _ context.Context, f *linkFacts) (*LinkResult, error) {
			return &LinkResult{Outcome: LinkAlreadyLinkedOther, UserID: f.req.SessionUserID}, nil
		},
	},
	{
		outcome: LinkLinked,
		when: func(_ *Linker, _ context.Context, f *linkFacts) (bool, error) {
			return f.existing == nil && f.hasSession(), nil
		},
		apply: (*Linker).applyLinked,
	},
	{
		outcome: LinkResumed,
		when: func(_ *Linker, _ context.Context, f *linkFacts) (bool, error) {
			return f.existing != nil && !f.hasSession(), nil
		},
		apply: (*Linker).applyResumed,
	},
	{
		outcome: LinkMatchedByEmail,
		when:    (*Linker).matchByEmail,
		apply:   (*Linker).applyMatchedByEmail,
	},
	{
		outcome: LinkNeedsOnboarding,
		when: func(*Linker, context.Context, *linkFacts) (bool, error) {
			return true, nil
		},
		apply: (*Linker).applyNeedsOnboarding,
	},
}

// Linker reconciles provider profiles with local accounts
type Linker struct {
	repos         Repositories
	sessions      *SessionManager
	verifications *Verifications
	audit         *AuditLog
	trustEmail    bool
	idKey         string
	logger        Logger
}

func NewLinker(repos Repositories, sessions *SessionManager, verifications *Verifications, audit *AuditLog, cfg Config) *Linker {
	return &Linker{
		repos:         repos,
		sessions:      sessions,
		verifications: verifications,
		audit:         audit,
		trustEmail:    cfg.GetTrustProviderEmail(),
		idKey:         cfg.GetSigningKey(),
		logger:        defLogger{},
	}
}

func (l *Linker) WithLogger(logger Logger) *Linker {
	l.logger = normalizeLogger(logger)
	return l
}

// Link evaluates the rule table for req. A unique violation while creating
// the connection means a concurrent callback linked the same identity, so
// the facts are re-read once and the existing connection path is followed.
func (l *Linker) Link(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Profile.Email = NormalizeIdentifier(req.Profile.Email)

	if req.Provider == "" || strings.TrimSpace(req.Profile.ProviderID) == "" {
		return nil, goerrors.New("provider and profile id are required", goerrors.CategoryBadInput)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		facts, err := l.gather(ctx, req)
		if err != nil {
			return nil, err
		}

		result, err := l.evaluate(ctx, facts)
		if err == nil {
			return result, nil
		}
		if !IsStorageConflict(err) {
			return nil, err
		}

		l.logger.Info("connection %s/%s was linked concurrently, re-reading", req.Provider, req.Profile.ProviderID)
		lastErr = err
	}

	return nil, goerrors.Wrap(lastErr, goerrors.CategoryInternal, "failed to link provider identity")
}

func (l *Linker) gather(ctx context.Context, req LinkRequest) (*linkFacts, error) {
	facts := &linkFacts{req: req}

	existing, err := l.repos.Connections().FindByProvider(ctx, req.Provider, req.Profile.ProviderID)
	if err != nil && !isRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find connection")
	}
	if err == nil {
		facts.existing = existing
	}
	return facts, nil
}

func (l *Linker) evaluate(ctx context.Context, facts *linkFacts) (*LinkResult, error) {
	for _, rule := range linkRules {
		ok, err := rule.when(l, ctx, facts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		l.logger.Debug("link rule %s matched for %s/%s", rule.outcome, facts.req.Provider, facts.req.Profile.ProviderID)
		return rule.apply(l, ctx, facts)
	}
	return nil, goerrors.New("no link rule matched", goerrors.CategoryInternal)
}

// matchByEmail only trusts emails the provider reports as verified, and
// only when the deployment opted into trusting provider emails.
func (l *Linker) matchByEmail(ctx context.Context, f *linkFacts) (bool, error) {
	if f.existing != nil || f.hasSession() {
		return false, nil
	}
	if !l.trustEmail || !f.req.Profile.EmailVerified || f.req.Profile.Email == "" {
		return false, nil
	}

	user, err := l.repos.Users().GetByEmail(ctx, f.req.Profile.Email)
	if err != nil {
		if isRecordNotFound(err) {
			return false, nil
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to match user by email")
	}

	f.byEmail = user
	return true, nil
}

func (l *Linker) newConnection(userID uuid.UUID, f *linkFacts) *Connection {
	return &Connection{
		ID:                uuid.New(),
		UserID:            userID,
		ProviderName:      f.req.Provider,
		ProviderProfileID: f.req.Profile.ProviderID,
	}
}

func (l *Linker) applyLinked(ctx context.Context, f *linkFacts) (*LinkResult, error) {
	result := &LinkResult{Outcome: LinkLinked, UserID: f.req.SessionUserID}

	err := l.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		conn, err := tx.Connections().Create(ctx, l.newConnection(f.req.SessionUserID, f))
		if err != nil {
			return err
		}
		result.Connection = conn

		return l.audit.Tx(tx.Audit()).Record(ctx, f.req.SessionUserID, AuditConnectionCreated, EntityConnection, map[string]any{
			"provider":   f.req.Provider,
			"profile_id": f.req.Profile.ProviderID,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Linker) applyResumed(ctx context.Context, f *linkFacts) (*LinkResult, error) {
	result := &LinkResult{Outcome: LinkResumed, UserID: f.existing.UserID, Connection: f.existing}

	err := l.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		session, err := l.sessions.Tx(tx).IssueSession(ctx, f.existing.UserID, f.req.Remember, WithClient(f.req.IP, f.req.UserAgent))
		if err != nil {
			return err
		}
		result.Session = session

		return l.audit.Tx(tx.Audit()).Record(ctx, f.existing.UserID, AuditProviderLogin, EntitySession, map[string]any{
			"provider": f.req.Provider,
			"remember": f.req.Remember,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Linker) applyMatchedByEmail(ctx context.Context, f *linkFacts) (*LinkResult, error) {
	userID := f.byEmail.ID
	result := &LinkResult{Outcome: LinkMatchedByEmail, UserID: userID}

	err := l.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		conn, err := tx.Connections().Create(ctx, l.newConnection(userID, f))
		if err != nil {
			return err
		}
		result.Connection = conn

		session, err := l.sessions.Tx(tx).IssueSession(ctx, userID, f.req.Remember, WithClient(f.req.IP, f.req.UserAgent))
		if err != nil {
			return err
		}
		result.Session = session

		audit := l.audit.Tx(tx.Audit())
		if err := audit.Record(ctx, userID, AuditConnectionCreated, EntityConnection, map[string]any{
			"provider":   f.req.Provider,
			"profile_id": f.req.Profile.ProviderID,
			"matched_by": "email",
		}); err != nil {
			return err
		}
		return audit.Record(ctx, userID, AuditProviderLogin, EntitySession, map[string]any{
			"provider": f.req.Provider,
			"remember": f.req.Remember,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Linker) applyNeedsOnboarding(ctx context.Context, f *linkFacts) (*LinkResult, error) {
	suggested := SanitizeUsername(f.req.Profile.Username)

	v, err := l.verifications.Create(ctx, PurposeOnboarding, VerificationData{
		Email:             f.req.Profile.Email,
		Username:          suggested,
		Name:              f.req.Profile.Name,
		ProviderName:      f.req.Provider,
		ProviderProfileID: f.req.Profile.ProviderID,
		EmailVerified:     f.req.Profile.EmailVerified,
	})
	if err != nil {
		return nil, err
	}

	return &LinkResult{
		Outcome:           LinkNeedsOnboarding,
		Verification:      v,
		SuggestedUsername: suggested,
	}, nil
}

// OnboardingRequest completes a NeedsOnboarding handoff
type OnboardingRequest struct {
	VerificationID string
	Username       string
	Name           string
	Password       string
	Remember       bool
	IP             string
	UserAgent      string
}

// OnboardingResult is the account created by CompleteOnboarding
type OnboardingResult struct {
	User       *User
	Connection *Connection
	Session    *IssuedSession
}

// CompleteOnboarding consumes the onboarding verification and creates the
// principal, its connection and a session as a single unit.
func (l *Linker) CompleteOnboarding(ctx context.Context, req OnboardingRequest, passwordCost int) (*OnboardingResult, error) {
	result := &OnboardingResult{}

	err := l.repos.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		v, err := l.verifications.Tx(tx.Verifications()).Consume(ctx, req.VerificationID, PurposeOnboarding)
		if err != nil {
			return err
		}

		user := &User{
			ID:             UserIDFromEmail(v.Data.Email, l.idKey),
			Username:       NormalizeIdentifier(req.Username),
			Email:          v.Data.Email,
			Name:           strings.TrimSpace(req.Name),
			EmailValidated: v.Data.EmailVerified,
		}
		if req.Password != "" {
			hash, err := HashPasswordWithCost(req.Password, passwordCost)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
			}
			user.PasswordHash = hash
		}

		created, err := tx.Users().Create(ctx, user)
		if err != nil {
			return err
		}
		result.User = created

		conn, err := tx.Connections().Create(ctx, &Connection{
			ID:                uuid.New(),
			UserID:            created.ID,
			ProviderName:      v.Data.ProviderName,
			ProviderProfileID: v.Data.ProviderProfileID,
		})
		if err != nil {
			return err
		}
		result.Connection = conn

		session, err := l.sessions.Tx(tx).IssueSession(ctx, created.ID, req.Remember, WithClient(req.IP, req.UserAgent))
		if err != nil {
			return err
		}
		result.Session = session

		return l.audit.Tx(tx.Audit()).Record(ctx, created.ID, AuditOnboardingCompleted, EntityUser, map[string]any{
			"provider": v.Data.ProviderName,
			"username": created.Username,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
