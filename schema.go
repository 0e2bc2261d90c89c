package auth

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

var schemaModels = []any{
	(*User)(nil),
	(*Role)(nil),
	(*UserRole)(nil),
	(*Permission)(nil),
	(*Connection)(nil),
	(*Session)(nil),
	(*Verification)(nil),
	(*AuditEntry)(nil),
}

var schemaIndexes = []struct {
	model   any
	name    string
	columns []string
}{
	{(*Connection)(nil), "idx_connections_user_id", []string{"user_id"}},
	{(*Session)(nil), "idx_sessions_user_id", []string{"user_id"}},
	{(*Session)(nil), "idx_sessions_expires_at", []string{"expires_at"}},
	{(*Verification)(nil), "idx_verifications_expires_at", []string{"expires_at"}},
	{(*AuditEntry)(nil), "idx_audit_log_principal_id", []string{"principal_id"}},
}

// CreateSchema creates the tables and indexes used by the stores. It is
// safe to run against an existing schema.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	for _, idx := range schemaIndexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	return nil
}
