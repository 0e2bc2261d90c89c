package commands

import (
	"context"
	"fmt"

	auth "github.com/goliatone/go-portal-auth"
)

type PurgeCmd struct{}

func (p *PurgeCmd) Run(ctx context.Context, globals *Globals) error {
	opts, err := globals.Options()
	if err != nil {
		return err
	}

	db, err := globals.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repos := auth.NewRepositoryManager(db)

	sessions, err := auth.NewSessionManager(repos, opts).PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge sessions: %w", err)
	}

	verifications, err := auth.NewVerifications(repos.Verifications(), opts).PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge verifications: %w", err)
	}

	fmt.Printf("Purged %d sessions and %d verifications\n", sessions, verifications)
	return nil
}
