package auth

import (
	"strings"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the principal model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Name           string     `bun:"name" json:"name,omitempty"`
	PasswordHash   string     `bun:"password_hash,nullzero" json:"-"`
	EmailValidated bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Roles []*Role `bun:"-" json:"roles,omitempty"`
}

// HasPassword reports whether the user can log in with a password
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// RoleNames returns the names of the roles assigned to the user
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if r != nil {
			names = append(names, r.Name)
		}
	}
	return names
}

// Role is a named capability bundle
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	Name          string     `bun:"name,pk" json:"name"`
	Description   string     `bun:"description" json:"description,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`

	Permissions []*Permission `bun:"-" json:"permissions,omitempty"`
}

// UserRole assigns a role to a user
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid"`
	RoleName      string    `bun:"role_name,pk"`
}

// Permission attaches an (entity, action, access) triple to a role
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	RoleName      string    `bun:"role_name,notnull,unique:role_permission" json:"role_name"`
	Entity        string    `bun:"entity,notnull,unique:role_permission" json:"entity"`
	Action        Action    `bun:"action,notnull,unique:role_permission" json:"action"`
	Access        Access    `bun:"access,notnull,unique:role_permission" json:"access"`
}

// Connection links a user to one identity provider account
type Connection struct {
	bun.BaseModel     `bun:"table:connections,alias:con"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID            uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	ProviderName      string     `bun:"provider_name,notnull,unique:provider_identity" json:"provider_name"`
	ProviderProfileID string     `bun:"provider_profile_id,notnull,unique:provider_identity" json:"provider_profile_id"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Session is the server side record referenced by the session token
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            string    `bun:"id,pk" json:"id"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Persistent    bool      `bun:"persistent" json:"persistent"`
	IPAddress     string    `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string    `bun:"user_agent" json:"user_agent,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// IsExpired reports whether the session is past its expiry
func (s *Session) IsExpired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// VerificationPurpose scopes a verification to the flow that consumes it
type VerificationPurpose string

const (
	PurposeOnboarding        VerificationPurpose = "onboarding"
	PurposePasswordReset     VerificationPurpose = "password_reset"
	PurposeEmailVerification VerificationPurpose = "email_verification"
)

// VerificationData is the typed bag held by a verification
type VerificationData struct {
	Email             string `json:"email,omitempty"`
	Username          string `json:"username,omitempty"`
	Name              string `json:"name,omitempty"`
	ProviderName      string `json:"provider_name,omitempty"`
	ProviderProfileID string `json:"provider_profile_id,omitempty"`
	EmailVerified     bool   `json:"email_verified,omitempty"`
	UserID            string `json:"user_id,omitempty"`
}

// Verification is a short lived single use token
type Verification struct {
	bun.BaseModel `bun:"table:verifications,alias:ver"`
	ID            string              `bun:"id,pk" json:"id"`
	Purpose       VerificationPurpose `bun:"purpose,notnull" json:"purpose"`
	Data          VerificationData    `bun:"data,type:json" json:"data"`
	CreatedAt     time.Time           `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time           `bun:"expires_at,notnull" json:"expires_at"`
}

func (v *Verification) IsExpired(now time.Time) bool {
	return v == nil || !now.Before(v.ExpiresAt)
}

// AuditEntry is an immutable record of a security relevant action
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_log,alias:aud"`
	ID            string         `bun:"id,pk" json:"id"`
	PrincipalID   string         `bun:"principal_id,nullzero" json:"principal_id,omitempty"`
	Action        AuditAction    `bun:"action,notnull" json:"action"`
	Entity        string         `bun:"entity,notnull" json:"entity"`
	Details       map[string]any `bun:"details,type:json" json:"details,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

// NormalizeIdentifier lower cases and trims usernames and emails
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// UserIDFromEmail derives a stable user id from the exact normalized email,
// keyed per deployment. hashid normalization is off: it strips punctuation,
// which would give j.doe@ and jdoe@ the same id. Without an email or key
// the id is random.
func UserIDFromEmail(email string, signingKey string) uuid.UUID {
	email = NormalizeIdentifier(email)
	if email == "" || signingKey == "" {
		return uuid.New()
	}

	id, err := hashid.NewUUID(email,
		hashid.WithNormalization(false),
		hashid.WithHMACKey([]byte("user-id:"+signingKey)),
	)
	if err != nil {
		return uuid.New()
	}
	return id
}
