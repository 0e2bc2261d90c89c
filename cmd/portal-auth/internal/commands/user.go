package commands

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-portal-auth"
)

// UserCmd manages local principals.
type UserCmd struct {
	Create UserCreateCmd `cmd:"" help:"Create a password user"`
}

type UserCreateCmd struct {
	Username string   `arg:"" help:"username, 3 to 20 lower case letters, digits or underscores"`
	Email    string   `arg:"" help:"email address"`
	Name     string   `help:"display name"`
	Password string   `help:"initial password" env:"PORTAL_USER_PASSWORD"`
	Roles    []string `help:"roles to grant"`
}

func (u *UserCreateCmd) Run(ctx context.Context, globals *Globals) error {
	opts, err := globals.Options()
	if err != nil {
		return err
	}

	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	user := &auth.User{
		Username:       auth.NormalizeIdentifier(u.Username),
		Email:          auth.NormalizeIdentifier(u.Email),
		Name:           u.Name,
		EmailValidated: true,
	}
	user.ID = auth.UserIDFromEmail(user.Email, opts.SigningKey)

	if u.Password != "" {
		user.PasswordHash, err = auth.HashPasswordWithCost(u.Password, opts.PasswordCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}

	repos := auth.NewRepositoryManager(db)
	err = repos.RunInTx(ctx, func(ctx context.Context, tx auth.Repositories) error {
		created, err := tx.Users().Create(ctx, user)
		if err != nil {
			return err
		}
		user = created

		if len(u.Roles) == 0 {
			return nil
		}
		return tx.Roles().Grant(ctx, created.ID, u.Roles...)
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}

	fmt.Printf("Created user %s (%s)\n", user.Username, user.ID)
	return nil
}
