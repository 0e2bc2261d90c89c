package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type roles struct {
	db bun.IDB
}

var _ RoleStore = (*roles)(nil)

// RolesForUser returns the roles assigned to the user with their
// permissions attached.
func (r *roles) RolesForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error) {
	records := []*Role{}
	err := r.db.NewSelect().
		Model(&records).
		Join("JOIN user_roles AS ur ON ur.role_name = rol.name").
		Where("ur.user_id = ?", userID).
		Order("rol.name ASC").
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}

	if len(records) == 0 {
		return records, nil
	}

	names := make([]string, 0, len(records))
	byName := make(map[string]*Role, len(records))
	for _, role := range records {
		names = append(names, role.Name)
		byName[role.Name] = role
	}

	perms := []*Permission{}
	err = r.db.NewSelect().
		Model(&perms).
		Where("?TableAlias.role_name IN (?)", bun.In(names)).
		Order("entity ASC", "action ASC").
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}

	for _, perm := range perms {
		if role, ok := byName[perm.RoleName]; ok {
			role.Permissions = append(role.Permissions, perm)
		}
	}

	return records, nil
}

// Grant assigns roles to the user, creating missing roles. Granting a role
// twice is a no-op.
func (r *roles) Grant(ctx context.Context, userID uuid.UUID, names ...string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if err := r.ensureRole(ctx, name); err != nil {
			return err
		}

		_, err := r.db.NewInsert().
			Model(&UserRole{UserID: userID, RoleName: name}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to grant role").
				WithMetadata(map[string]any{"role": name})
		}
	}
	return nil
}

func (r *roles) AddPermission(ctx context.Context, perm *Permission) error {
	if err := r.ensureRole(ctx, perm.RoleName); err != nil {
		return err
	}

	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}

	if _, err := r.db.NewInsert().Model(perm).Exec(ctx); err != nil {
		return mapStoreErr(err, "failed to add permission")
	}
	return nil
}

func (r *roles) ensureRole(ctx context.Context, name string) error {
	_, err := r.db.NewInsert().
		Model(&Role{Name: name}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create role").
			WithMetadata(map[string]any{"role": name})
	}
	return nil
}
