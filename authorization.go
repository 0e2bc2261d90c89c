package auth

import (
	"context"

	"github.com/google/uuid"
)

// Authorizer gates operations on the roles and permissions of the
// session principal.
type Authorizer struct {
	sessions *SessionManager
}

func NewAuthorizer(sessions *SessionManager) *Authorizer {
	return &Authorizer{sessions: sessions}
}

// RequireUserWithRole resolves the session principal and requires role
func (a *Authorizer) RequireUserWithRole(ctx context.Context, rc RequestContext, role string) (*User, error) {
	return a.RequireUserWithRoles(ctx, rc, role)
}

// RequireUserWithRoles is satisfied when the principal holds ANY of roles.
func (a *Authorizer) RequireUserWithRoles(ctx context.Context, rc RequestContext, roles ...string) (*User, error) {
	user, err := a.sessions.RequireUser(ctx, rc)
	if err != nil {
		return nil, err
	}

	if !UserHasRoles(user, roles...) {
		return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
			"required_any": roles,
			"user_id":      user.ID.String(),
		})
	}
	return user, nil
}

// RequirePermission resolves the session principal and requires capability
func (a *Authorizer) RequirePermission(ctx context.Context, rc RequestContext, capability Capability) (*User, error) {
	user, err := a.sessions.RequireUser(ctx, rc)
	if err != nil {
		return nil, err
	}

	if !Can(user, capability) {
		return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
			"entity":  capability.Entity,
			"action":  string(capability.Action),
			"user_id": user.ID.String(),
		})
	}
	return user, nil
}

// UserHasRoles reports whether user holds any of roles. It does no I/O.
func UserHasRoles(user *User, roles ...string) bool {
	if user == nil || len(roles) == 0 {
		return false
	}

	for _, assigned := range user.Roles {
		if assigned == nil {
			continue
		}
		for _, role := range roles {
			if assigned.Name == role {
				return true
			}
		}
	}
	return false
}

// Can reports whether any role of user carries a permission for the
// capability. "any" access always matches, "own" access only when the
// target record is owned by user. No matching permission is a deny.
func Can(user *User, capability Capability) bool {
	if user == nil || capability.Entity == "" || !capability.Action.IsValid() {
		return false
	}

	owns := capability.OwnerID != uuid.Nil && capability.OwnerID == user.ID

	for _, role := range user.Roles {
		if role == nil {
			continue
		}
		for _, perm := range role.Permissions {
			if perm == nil || perm.Entity != capability.Entity || perm.Action != capability.Action {
				continue
			}
			switch perm.Access {
			case AccessAny:
				return true
			case AccessOwn:
				if owns {
					return true
				}
			}
		}
	}
	return false
}
