package commands

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-portal-auth"
)

// RoleCmd manages roles and their permissions.
type RoleCmd struct {
	Grant RoleGrantCmd `cmd:"" help:"Grant a role to a user"`
	Allow RoleAllowCmd `cmd:"" help:"Add permissions to a role"`
}

type RoleGrantCmd struct {
	Username string `arg:"" help:"username or email of the user"`
	Role     string `arg:"" help:"role name, e.g. admin"`
}

func (r *RoleGrantCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repos := auth.NewRepositoryManager(db)

	user, err := repos.Users().GetByIdentifier(ctx, r.Username)
	if err != nil {
		return fmt.Errorf("user %s not found: %w", r.Username, err)
	}

	if err := repos.Roles().Grant(ctx, user.ID, r.Role); err != nil {
		return fmt.Errorf("failed to grant %s: %w", r.Role, err)
	}

	fmt.Printf("Granted %s to %s\n", r.Role, user.Username)
	return nil
}

type RoleAllowCmd struct {
	Role        string   `arg:"" help:"role name"`
	Permissions []string `arg:"" help:"permissions as entity:action:access, e.g. user:update:own"`
}

func (r *RoleAllowCmd) Run(ctx context.Context, globals *Globals) error {
	perms := make([]*auth.Permission, 0, len(r.Permissions))
	for _, raw := range r.Permissions {
		perm, err := auth.ParsePermission(r.Role, raw)
		if err != nil {
			return err
		}
		perms = append(perms, perm)
	}

	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repos := auth.NewRepositoryManager(db)
	err = repos.RunInTx(ctx, func(ctx context.Context, tx auth.Repositories) error {
		for _, perm := range perms {
			if err := tx.Roles().AddPermission(ctx, perm); err != nil && !auth.IsStorageConflict(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add permissions to %s: %w", r.Role, err)
	}

	for _, perm := range perms {
		fmt.Printf("%s can %s\n", r.Role, perm)
	}
	return nil
}
