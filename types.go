package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetSessionCookieName() string
	GetSessionDuration() time.Duration
	GetRememberDuration() time.Duration
	GetVerificationTTL() time.Duration
	GetLoginRoute() string
	GetHomeRoute() string
	GetOnboardingRoute() string
	GetConnectionsRoute() string
	GetTrustProviderEmail() bool
	GetPasswordCost() int
	GetSecureCookies() bool
}

// UserStore is the credential store for principals
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByIdentifier matches identifier against email or username in a
	// single lookup.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// ConnectionStore persists identity provider links
type ConnectionStore interface {
	FindByProvider(ctx context.Context, provider, profileID string) (*Connection, error)
	Create(ctx context.Context, conn *Connection) (*Connection, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error)
}

// RoleStore resolves roles and their permissions
type RoleStore interface {
	RolesForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error)
	Grant(ctx context.Context, userID uuid.UUID, roles ...string) error
	AddPermission(ctx context.Context, perm *Permission) error
}

type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type VerificationStore interface {
	Create(ctx context.Context, v *Verification) error
	Get(ctx context.Context, id string) (*Verification, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditStore is append only
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// Repositories groups the stores bound to the same database handle.
// RunInTx hands fn a Repositories bound to a single transaction.
type Repositories interface {
	Users() UserStore
	Connections() ConnectionStore
	Roles() RoleStore
	Sessions() SessionStore
	Verifications() VerificationStore
	Audit() AuditStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
