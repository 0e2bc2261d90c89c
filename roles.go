package auth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// RoleAdmin is the portal administrator
	RoleAdmin = "admin"
)

// Action is a CRUD verb a permission grants
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid checks the action is one of the CRUD verbs
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// Access scopes a permission to owned records or to any record
type Access string

const (
	AccessOwn Access = "own"
	AccessAny Access = "any"
)

func (a Access) IsValid() bool {
	return a == AccessOwn || a == AccessAny
}

// Capability is a request to perform action on entity. OwnerID is the
// owner of the target record, uuid.Nil when it is unknown or irrelevant.
type Capability struct {
	Entity  string
	Action  Action
	OwnerID uuid.UUID
}

// ParsePermission parses "entity:action:access" strings, e.g. "user:update:own"
func ParsePermission(role, s string) (*Permission, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid permission %q: expected entity:action:access", s)
	}

	perm := &Permission{
		RoleName: strings.TrimSpace(role),
		Entity:   strings.TrimSpace(parts[0]),
		Action:   Action(strings.ToLower(parts[1])),
		Access:   Access(strings.ToLower(parts[2])),
	}

	if perm.RoleName == "" || perm.Entity == "" {
		return nil, fmt.Errorf("invalid permission %q: role and entity are required", s)
	}
	if !perm.Action.IsValid() {
		return nil, fmt.Errorf("invalid permission %q: unknown action %q", s, parts[1])
	}
	if !perm.Access.IsValid() {
		return nil, fmt.Errorf("invalid permission %q: unknown access %q", s, parts[2])
	}
	return perm, nil
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Entity, p.Action, p.Access)
}
