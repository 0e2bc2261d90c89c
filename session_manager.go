package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const sessionIDBytes = 32

// IssuedSession is what the transport needs to hand a session to the client
type IssuedSession struct {
	ID         string
	UserID     uuid.UUID
	Token      string
	ExpiresAt  time.Time
	Persistent bool
}

// SessionClaims is the payload of a session token. The token only
// references the server side record through its ID (jti).
type SessionClaims struct {
	Remember bool `json:"rmb,omitempty"`
	jwt.RegisteredClaims
}

type sessionOptions struct {
	ip        string
	userAgent string
}

// SessionOption decorates issued session records
type SessionOption func(*sessionOptions)

// WithClient records the client address and user agent on the session
func WithClient(ip, userAgent string) SessionOption {
	return func(o *sessionOptions) {
		o.ip = ip
		o.userAgent = userAgent
	}
}

// SessionManager issues, resolves and destroys sessions
type SessionManager struct {
	repos            Repositories
	signingKey       []byte
	issuer           string
	sessionDuration  time.Duration
	rememberDuration time.Duration
	loginRoute       string
	homeRoute        string
	logger           Logger
	now              func() time.Time
}

func NewSessionManager(repos Repositories, cfg Config) *SessionManager {
	m := &SessionManager{
		repos:            repos,
		signingKey:       []byte(cfg.GetSigningKey()),
		issuer:           cfg.GetIssuer(),
		sessionDuration:  cfg.GetSessionDuration(),
		rememberDuration: cfg.GetRememberDuration(),
		loginRoute:       cfg.GetLoginRoute(),
		homeRoute:        cfg.GetHomeRoute(),
		logger:           defLogger{},
		now:              time.Now,
	}

	if m.sessionDuration <= 0 {
		m.sessionDuration = 12 * time.Hour
	}
	if m.rememberDuration <= 0 {
		m.rememberDuration = 30 * 24 * time.Hour
	}
	if m.loginRoute == "" {
		m.loginRoute = "/login"
	}
	if m.homeRoute == "" {
		m.homeRoute = "/"
	}
	return m
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	m.logger = normalizeLogger(logger)
	return m
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Tx returns a copy of the manager bound to the transaction repositories
func (m *SessionManager) Tx(repos Repositories) *SessionManager {
	clone := *m
	clone.repos = repos
	return &clone
}

// IssueSession creates a new session record with a fresh random id.
// Remembered sessions live for the remember duration and are meant to be
// persisted by the client, others end with the client session.
func (m *SessionManager) IssueSession(ctx context.Context, userID uuid.UUID, remember bool, opts ...SessionOption) (*IssuedSession, error) {
	if userID == uuid.Nil {
		return nil, goerrors.New("session requires a principal", goerrors.CategoryBadInput)
	}

	o := sessionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	id, err := randomToken(sessionIDBytes)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session id")
	}

	now := m.now().UTC()
	ttl := m.sessionDuration
	if remember {
		ttl = m.rememberDuration
	}

	record := &Session{
		ID:         id,
		UserID:     userID,
		Persistent: remember,
		IPAddress:  o.ip,
		UserAgent:  o.userAgent,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := m.repos.Sessions().Create(ctx, record); err != nil {
		return nil, mapStoreErr(err, "failed to store session")
	}

	token, err := m.sign(record)
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		ID:         record.ID,
		UserID:     userID,
		Token:      token,
		ExpiresAt:  record.ExpiresAt,
		Persistent: remember,
	}, nil
}

func (m *SessionManager) sign(record *Session) (string, error) {
	claims := SessionClaims{
		Remember: record.Persistent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.ID,
			Subject:   record.UserID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(record.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}
	return token, nil
}

func (m *SessionManager) parse(token string, validate bool) (*SessionClaims, error) {
	if token == "" {
		return nil, ErrSessionTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if validate {
		opts = append(opts, jwt.WithExpirationRequired())
		if m.issuer != "" {
			opts = append(opts, jwt.WithIssuer(m.issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token").
			WithTextCode(TextCodeSessionTokenMalformed)
	}

	if claims.ID == "" {
		return nil, ErrSessionTokenMalformed
	}
	return claims, nil
}

// ResolvePrincipal returns the principal of a valid session. Anonymous,
// malformed, tampered and expired tokens all resolve to (uuid.Nil, false).
func (m *SessionManager) ResolvePrincipal(ctx context.Context, token string) (uuid.UUID, bool) {
	if token == "" {
		return uuid.Nil, false
	}

	claims, err := m.parse(token, true)
	if err != nil {
		m.logger.Debug("session token rejected: %s", err)
		return uuid.Nil, false
	}

	record, err := m.repos.Sessions().Get(ctx, claims.ID)
	if err != nil {
		if !isRecordNotFound(err) {
			m.logger.Error("session lookup failed: %s", err)
		}
		return uuid.Nil, false
	}

	if record.IsExpired(m.now()) || record.UserID.String() != claims.Subject {
		return uuid.Nil, false
	}

	return record.UserID, true
}

// RequireUserID fails with ErrUnauthenticated redirecting to the login route
func (m *SessionManager) RequireUserID(ctx context.Context, rc RequestContext) (uuid.UUID, error) {
	userID, ok := m.ResolvePrincipal(ctx, rc.SessionToken)
	if !ok {
		return uuid.Nil, withRedirect(ErrUnauthenticated, m.loginRoute)
	}
	return userID, nil
}

// RequireUser is RequireUserID plus loading the principal and its roles
func (m *SessionManager) RequireUser(ctx context.Context, rc RequestContext) (*User, error) {
	userID, err := m.RequireUserID(ctx, rc)
	if err != nil {
		return nil, err
	}

	user, err := m.repos.Users().GetByID(ctx, userID)
	if err != nil {
		if isRecordNotFound(err) {
			// session outlived its principal
			return nil, withRedirect(ErrUnauthenticated, m.loginRoute)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session principal")
	}

	roles, err := m.repos.Roles().RolesForUser(ctx, user.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load principal roles")
	}
	user.Roles = roles

	return user, nil
}

// RequireAnonymous fails with ErrAlreadyAuthenticated redirecting home
func (m *SessionManager) RequireAnonymous(ctx context.Context, rc RequestContext) error {
	if _, ok := m.ResolvePrincipal(ctx, rc.SessionToken); ok {
		return withRedirect(ErrAlreadyAuthenticated, m.homeRoute)
	}
	return nil
}

// DestroySession deletes the session referenced by token. It is idempotent:
// unknown, expired or malformed tokens are not an error.
func (m *SessionManager) DestroySession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	claims, err := m.parse(token, false)
	if err != nil {
		return nil
	}

	if err := m.repos.Sessions().Delete(ctx, claims.ID); err != nil && !isRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to destroy session")
	}
	return nil
}

// DestroyUserSessions removes every session of the user
func (m *SessionManager) DestroyUserSessions(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := m.repos.Sessions().DeleteByUser(ctx, userID)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to destroy user sessions")
	}
	return n, nil
}

// PurgeExpired removes expired session records
func (m *SessionManager) PurgeExpired(ctx context.Context) (int, error) {
	return m.repos.Sessions().DeleteExpired(ctx, m.now().UTC())
}

// SessionIDFromToken returns the session id of a correctly signed token
func (m *SessionManager) SessionIDFromToken(token string) (string, bool) {
	claims, err := m.parse(token, false)
	if err != nil {
		return "", false
	}
	return claims.ID, true
}
