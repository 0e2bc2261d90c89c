package commands

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-portal-auth"
)

type MigrateCmd struct{}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := auth.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	fmt.Println("Schema is up to date.")
	return nil
}
